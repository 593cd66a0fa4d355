package mail

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lanternhq/lantern/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService_RequiresFromAddress(t *testing.T) {
	cfg := testutils.GetTestConfig()
	cfg.Mail.Host = "localhost"

	_, err := NewService(cfg, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAIL_FROM_ADDRESS")
}

func TestNewService_LoadsTemplates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "login_link.txt"),
		[]byte("Sign in: {{.LinkURL}}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "login_link.html"),
		[]byte("<a href=\"{{.LinkURL}}\">Sign in</a>"), 0o644))

	cfg := testutils.GetTestConfig()
	cfg.Mail.FromAddress = "noreply@example.com"
	cfg.Mail.TemplatesDir = dir

	service, err := NewService(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, service.htmlTemplates.Lookup("login_link.html"))
	assert.NotNil(t, service.textTemplates.Lookup("login_link.txt"))
}

func TestNewService_NoTemplatesDir(t *testing.T) {
	cfg := testutils.GetTestConfig()
	cfg.Mail.FromAddress = "noreply@example.com"

	service, err := NewService(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, service.htmlTemplates)
	assert.Nil(t, service.textTemplates)
}

func TestService_SendRecoveryLinks_LengthMismatch(t *testing.T) {
	cfg := testutils.GetTestConfig()
	cfg.Mail.FromAddress = "noreply@example.com"

	service, err := NewService(cfg, nil)
	require.NoError(t, err)

	err = service.SendRecoveryLinks([]string{"a@example.com"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch")
}
