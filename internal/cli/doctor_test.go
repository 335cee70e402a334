package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/rdmwatch/internal/device/devicetest"
	"github.com/tobert/rdmwatch/internal/live"
)

type mockFsUtils struct {
	statMap    map[string]os.FileInfo
	statErr    error
	homeDir    string
	homeDirErr error
	cwd        string
	cwdErr     error
}

func (m *mockFsUtils) Stat(name string) (os.FileInfo, error) {
	if info, ok := m.statMap[name]; ok {
		return info, nil
	}
	return nil, m.statErr
}
func (m *mockFsUtils) UserHomeDir() (string, error) { return m.homeDir, m.homeDirErr }
func (m *mockFsUtils) Getwd() (string, error)       { return m.cwd, m.cwdErr }

type nopConn struct{ closed bool }

func (c *nopConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	<-ctx.Done()
	return 0, nil, ctx.Err()
}

func (c *nopConn) Close(code websocket.StatusCode, reason string) error {
	c.closed = true
	return nil
}

func TestDoctorHealthyDevice(t *testing.T) {
	d := devicetest.New()
	defer d.Close()

	conn := &nopConn{}
	var dialed string
	var out bytes.Buffer
	err := runDoctorWith(context.Background(), "test-version", doctorEnv{
		cfg: &Config{DeviceURL: d.URL, RequestTimeout: "2s"},
		utils: &mockFsUtils{
			homeDir: "/home/testuser",
			cwd:     "/home/testuser/project",
			statErr: os.ErrNotExist,
		},
		dial: func(ctx context.Context, url string) (live.Conn, error) {
			dialed = url
			return conn, nil
		},
		out: &out,
	})

	require.NoError(t, err)
	text := out.String()
	assert.Contains(t, text, "🔍 rdmwatch doctor vtest-version")
	assert.Contains(t, text, "⚠ No config file found, using defaults and flags")
	assert.Contains(t, text, "✓ Device URL: "+d.URL)
	assert.Contains(t, text, "✓ System info: firmware 1.2.0 on ESP32-S3")
	assert.Contains(t, text, "up 1h2m5s")
	assert.Contains(t, text, "✓ System stats: 1,000 Art-Net and 50 sACN packets")
	assert.Contains(t, text, "✓ Network status: sta mode, address 192.168.1.50")
	assert.Contains(t, text, "✓ Ports status: 2 port(s), 1 active")
	assert.Contains(t, text, "✓ Config readable: node node")
	assert.Contains(t, text, "✓ Push channel reachable: ws://")
	assert.Contains(t, text, "✅ All critical checks passed!")
	assert.Contains(t, text, "⚠️  1 optional warning(s)")

	assert.Equal(t, "/ws", dialed[len(dialed)-3:])
	assert.True(t, conn.closed)
}

func TestDoctorUnreachableDevice(t *testing.T) {
	d := devicetest.New()
	defer d.Close()
	d.Fail(devicetest.SystemInfo, 503)

	projectCfg := filepath.Join("/work", ".rdmwatch.yaml")
	var out bytes.Buffer
	err := runDoctorWith(context.Background(), "test-version", doctorEnv{
		cfg: &Config{DeviceURL: d.URL},
		utils: &mockFsUtils{
			cwd:        "/work",
			homeDirErr: errors.New("no home"),
			statMap: map[string]os.FileInfo{
				projectCfg: &mockFileInfo{mode: 0644},
			},
			statErr: os.ErrNotExist,
		},
		dial: func(ctx context.Context, url string) (live.Conn, error) {
			return nil, errors.New("connection refused")
		},
		out: &out,
	})

	require.Error(t, err)
	text := out.String()
	assert.Contains(t, text, "✓ Config file found: "+projectCfg)
	assert.Contains(t, text, "✗ Could not read system info")
	assert.Contains(t, text, "Error: system info: HTTP 503")
	assert.Contains(t, text, "✓ Ports status")
	assert.Contains(t, text, "⚠ Push channel ws://")
	assert.Contains(t, text, "polling still works")
	assert.Contains(t, text, "❌ Found 1 issue(s) that need attention")
	assert.Contains(t, text, "⚠️  1 warning(s)")
}

func TestDoctorWithoutDevice(t *testing.T) {
	var out bytes.Buffer
	err := runDoctorWith(context.Background(), "dev", doctorEnv{
		cfg:   DefaultConfig(),
		utils: &mockFsUtils{statErr: os.ErrNotExist},
		dial: func(ctx context.Context, url string) (live.Conn, error) {
			t.Fatal("push channel must not be dialed without a device")
			return nil, nil
		},
		out: &out,
	})

	require.Error(t, err)
	assert.Contains(t, out.String(), "✗ No device URL configured")
	assert.NotContains(t, out.String(), "System info")
}

func TestDoctorInvalidDeviceURL(t *testing.T) {
	var out bytes.Buffer
	err := runDoctorWith(context.Background(), "dev", doctorEnv{
		cfg:   &Config{DeviceURL: "ftp://node"},
		utils: &mockFsUtils{statErr: os.ErrNotExist},
		out:   &out,
	})

	require.Error(t, err)
	assert.Contains(t, out.String(), "✗ Device URL is invalid")
	assert.Contains(t, out.String(), "must be http or https")
}

// mockFileInfo implements os.FileInfo for testing purposes
type mockFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	isDir   bool
	sys     interface{}
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() os.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return m.isDir }
func (m *mockFileInfo) Sys() interface{}   { return m.sys }
