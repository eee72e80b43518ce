package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "moonfire.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadValid(t *testing.T) {
	path := writeConfig(t, `
db_dir: /var/lib/moonfire/db
sample_file_dirs:
  - /var/lib/moonfire/sample0
cameras:
  - uuid: 11111111-1111-1111-1111-111111111111
    short_name: driveway
    streams:
      main:
        rtsp_url: rtsp://cam/main
        retain_bytes: 1073741824
        flush_if_sec: 120
        record: true
        sample_file_dir: 0
server:
  bind_address: 0.0.0.0:8080
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/moonfire/db", cfg.DBDir)
	require.Len(t, cfg.Cameras, 1)
	require.Equal(t, "driveway", cfg.Cameras[0].ShortName)
	require.Equal(t, "rtsp://cam/main", cfg.Cameras[0].Streams["main"].RTSPURL)
	require.Equal(t, "0.0.0.0:8080", cfg.Server.BindAddress)
}

func TestLoadDefaultsBindAddress(t *testing.T) {
	path := writeConfig(t, `
db_dir: /db
sample_file_dirs: [/s0]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8080", cfg.Server.BindAddress)
}

func TestValidateMissingDBDir(t *testing.T) {
	cfg := &Config{SampleFileDirs: []string{"/s0"}}
	require.Error(t, cfg.Validate())
}

func TestValidateMissingSampleFileDirs(t *testing.T) {
	cfg := &Config{DBDir: "/db"}
	require.Error(t, cfg.Validate())
}

func TestValidateBadStreamKey(t *testing.T) {
	cfg := &Config{
		DBDir:          "/db",
		SampleFileDirs: []string{"/s0"},
		Cameras: []CameraConfig{{
			UUID:      "u",
			ShortName: "cam0",
			Streams: map[string]StreamConfig{
				"aux": {},
			},
		}},
	}
	require.Error(t, cfg.Validate())
}

func TestValidateRecordWithoutURL(t *testing.T) {
	cfg := &Config{
		DBDir:          "/db",
		SampleFileDirs: []string{"/s0"},
		Cameras: []CameraConfig{{
			UUID:      "u",
			ShortName: "cam0",
			Streams: map[string]StreamConfig{
				"main": {Record: true},
			},
		}},
	}
	require.Error(t, cfg.Validate())
}

func TestValidateSampleFileDirOutOfRange(t *testing.T) {
	cfg := &Config{
		DBDir:          "/db",
		SampleFileDirs: []string{"/s0"},
		Cameras: []CameraConfig{{
			UUID:      "u",
			ShortName: "cam0",
			Streams: map[string]StreamConfig{
				"main": {SampleFileDir: 1},
			},
		}},
	}
	require.Error(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
