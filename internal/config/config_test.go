package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocdoni/gofirma/afipws/internal/model"
)

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MODE", ModeHomologation)
	t.Setenv("HOMOLOGACION_CERT_PATH", "/etc/afip/cert.pem")
	t.Setenv("HOMOLOGACION_KEY_PATH", "/etc/afip/key.pem")
	t.Setenv("CUIT_REPRESENTADA", "20111111112")
	t.Setenv("WSFEV1_URL", "https://wsfe.example/service.asmx")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "20111111112", cfg.CUITRepresentada)
	assert.Equal(t, "/etc/afip/cert.pem", cfg.ActiveKeyMaterial().CertPath)
	ep := cfg.ActiveEndpoints()
	assert.Equal(t, "https://wsaahomo.afip.gov.ar/ws/services/LoginCms", ep.WSAA)
	assert.Equal(t, "https://wsfe.example/service.asmx", ep.WSFE)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "pkcs7", cfg.Signer.Backend)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "afipws.yaml")
	content := `
mode: produccion
certs:
  produccion:
    pkcs12_path: /etc/afip/prod.p12
    pkcs12_password: secret
http:
  timeout: 10s
logger:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModeProduction, cfg.Mode)
	assert.Equal(t, "https://wsaa.afip.gov.ar/ws/services/LoginCms", cfg.ActiveEndpoints().WSAA)
	assert.Equal(t, "/etc/afip/prod.p12", cfg.ActiveKeyMaterial().PKCS12Path)
	assert.Equal(t, 10*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestValidateMissingKeyMaterial(t *testing.T) {
	t.Setenv("MODE", ModeProduction)

	_, err := Load("")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrConfiguration)
	assert.Contains(t, err.Error(), "certificate and key paths are required")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Mode: ModeHomologation,
			Endpoints: EndpointsConfig{Homologation: Endpoints{
				WSAA: "https://wsaa.example", WSFE: "https://wsfe.example",
			}},
			Certs:  CertsConfig{Homologation: KeyMaterial{CertPath: "c.pem", KeyPath: "k.pem"}},
			Signer: SignerConfig{Backend: "openssl"},
			HTTP:   HTTPConfig{Timeout: time.Second},
		}
	}
	require.NoError(t, base().Validate())

	cases := map[string]func(*Config){
		"unknown mode":      func(c *Config) { c.Mode = "test" },
		"missing wsaa":      func(c *Config) { c.Endpoints.Homologation.WSAA = "" },
		"unknown backend":   func(c *Config) { c.Signer.Backend = "hsm" },
		"openssl needs pem": func(c *Config) { c.Certs.Homologation = KeyMaterial{PKCS12Path: "x.p12"} },
		"bad cuit":          func(c *Config) { c.CUITRepresentada = "20111111113" },
		"zero timeout":      func(c *Config) { c.HTTP.Timeout = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), model.ErrConfiguration)
		})
	}
}
