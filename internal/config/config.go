package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/vocdoni/gofirma/afipws/internal/model"
)

const (
	ModeHomologation = "homologacion"
	ModeProduction   = "produccion"
)

// Config holds all application configuration
type Config struct {
	Mode             string          `mapstructure:"mode"`
	CUITRepresentada string          `mapstructure:"cuit_representada"`
	Endpoints        EndpointsConfig `mapstructure:"endpoints"`
	Certs            CertsConfig     `mapstructure:"certs"`
	Signer           SignerConfig    `mapstructure:"signer"`
	Storage          StorageConfig   `mapstructure:"storage"`
	HTTP             HTTPConfig      `mapstructure:"http"`
	Logger           LoggerConfig    `mapstructure:"logger"`
}

// EndpointsConfig holds the service URLs per mode.
type EndpointsConfig struct {
	Homologation Endpoints `mapstructure:"homologacion"`
	Production   Endpoints `mapstructure:"produccion"`
	// WSFEOverride replaces the invoicing URL of the active mode when set.
	WSFEOverride string `mapstructure:"wsfe_override"`
}

type Endpoints struct {
	WSAA      string `mapstructure:"wsaa"`
	WSFE      string `mapstructure:"wsfe"`
	PadronA5  string `mapstructure:"padron_a5"`
	PadronA13 string `mapstructure:"padron_a13"`
}

// CertsConfig holds the key material per mode.
type CertsConfig struct {
	Homologation KeyMaterial `mapstructure:"homologacion"`
	Production   KeyMaterial `mapstructure:"produccion"`
}

type KeyMaterial struct {
	CertPath       string `mapstructure:"cert_path"`
	KeyPath        string `mapstructure:"key_path"`
	PKCS12Path     string `mapstructure:"pkcs12_path"`
	PKCS12Password string `mapstructure:"pkcs12_password"`
	PKCS11Module   string `mapstructure:"pkcs11_module"`
	PKCS11Slot     uint   `mapstructure:"pkcs11_slot"`
	PKCS11PIN      string `mapstructure:"pkcs11_pin"`
	PKCS11Label    string `mapstructure:"pkcs11_label"`
}

// SignerConfig selects how the login ticket request is signed.
type SignerConfig struct {
	Backend       string `mapstructure:"backend"` // pkcs7 or openssl
	OpenSSLBinary string `mapstructure:"openssl_binary"`
}

type StorageConfig struct {
	TokensDir     string `mapstructure:"tokens_dir"`
	ArtifactsDir  string `mapstructure:"artifacts_dir"`
	AuditDir      string `mapstructure:"audit_dir"`
	VaultPassword string `mapstructure:"vault_password"`
}

type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	RateBurst int           `mapstructure:"rate_burst"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads configuration from an optional YAML file, a .env file in the
// working directory and the environment, in increasing precedence.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("AFIPWS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", ModeHomologation)

	v.SetDefault("endpoints.homologacion.wsaa", "https://wsaahomo.afip.gov.ar/ws/services/LoginCms")
	v.SetDefault("endpoints.homologacion.wsfe", "https://wswhomo.afip.gov.ar/wsfev1/service.asmx")
	v.SetDefault("endpoints.homologacion.padron_a5", "https://awshomo.afip.gov.ar/sr-padron/webservices/personaServiceA5")
	v.SetDefault("endpoints.homologacion.padron_a13", "https://awshomo.afip.gov.ar/sr-padron/webservices/personaServiceA13")
	v.SetDefault("endpoints.produccion.wsaa", "https://wsaa.afip.gov.ar/ws/services/LoginCms")
	v.SetDefault("endpoints.produccion.wsfe", "https://servicios1.afip.gov.ar/wsfev1/service.asmx")
	v.SetDefault("endpoints.produccion.padron_a5", "https://aws.afip.gov.ar/sr-padron/webservices/personaServiceA5")
	v.SetDefault("endpoints.produccion.padron_a13", "https://aws.afip.gov.ar/sr-padron/webservices/personaServiceA13")

	for _, mode := range []string{ModeHomologation, ModeProduction} {
		for _, key := range []string{"cert_path", "key_path", "pkcs12_path", "pkcs12_password", "pkcs11_module", "pkcs11_pin", "pkcs11_label"} {
			v.SetDefault("certs."+mode+"."+key, "")
		}
		v.SetDefault("certs."+mode+".pkcs11_slot", 0)
	}
	v.SetDefault("cuit_representada", "")
	v.SetDefault("endpoints.wsfe_override", "")

	v.SetDefault("signer.backend", "pkcs7")
	v.SetDefault("signer.openssl_binary", "openssl")

	v.SetDefault("storage.tokens_dir", "tokens")
	v.SetDefault("storage.artifacts_dir", "tra_cms")
	v.SetDefault("storage.audit_dir", "audit")
	v.SetDefault("storage.vault_password", "")

	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.rate_limit", 5.0)
	v.SetDefault("http.rate_burst", 5)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stderr")
	v.SetDefault("logger.format", "console")
}

// bindEnvVars keeps the variable names of existing deployments working.
func bindEnvVars(v *viper.Viper) {
	v.BindEnv("mode", "MODE")
	v.BindEnv("cuit_representada", "CUIT_REPRESENTADA")
	v.BindEnv("endpoints.homologacion.wsaa", "HOMOLOGACION_WSAA")
	v.BindEnv("endpoints.produccion.wsaa", "PRODUCCION_WSAA")
	v.BindEnv("endpoints.homologacion.wsfe", "HOMOLOGACION_WSFEV1")
	v.BindEnv("endpoints.produccion.wsfe", "PRODUCCION_WSFEV1")
	v.BindEnv("endpoints.wsfe_override", "WSFEV1_URL")
	v.BindEnv("endpoints.homologacion.padron_a5", "HOMOLOGACION_PADRON_A5")
	v.BindEnv("endpoints.produccion.padron_a5", "PRODUCCION_PADRON_A5")
	v.BindEnv("endpoints.homologacion.padron_a13", "HOMOLOGACION_PADRON")
	v.BindEnv("endpoints.produccion.padron_a13", "PRODUCCION_PADRON")
	v.BindEnv("certs.homologacion.cert_path", "HOMOLOGACION_CERT_PATH")
	v.BindEnv("certs.homologacion.key_path", "HOMOLOGACION_KEY_PATH")
	v.BindEnv("certs.produccion.cert_path", "PRODUCCION_CERT_PATH")
	v.BindEnv("certs.produccion.key_path", "PRODUCCION_KEY_PATH")
	v.BindEnv("storage.vault_password", "AFIPWS_VAULT_PASSWORD")
}

// ActiveEndpoints returns the URLs for the configured mode.
func (c *Config) ActiveEndpoints() Endpoints {
	ep := c.Endpoints.Homologation
	if c.Mode == ModeProduction {
		ep = c.Endpoints.Production
	}
	if c.Endpoints.WSFEOverride != "" {
		ep.WSFE = c.Endpoints.WSFEOverride
	}
	return ep
}

// ActiveKeyMaterial returns the certificate/key configuration for the configured mode.
func (c *Config) ActiveKeyMaterial() KeyMaterial {
	if c.Mode == ModeProduction {
		return c.Certs.Production
	}
	return c.Certs.Homologation
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Mode != ModeHomologation && c.Mode != ModeProduction {
		return configError("mode must be %q or %q, got %q", ModeHomologation, ModeProduction, c.Mode)
	}
	ep := c.ActiveEndpoints()
	if ep.WSAA == "" {
		return configError("%s WSAA endpoint is required", c.Mode)
	}
	if ep.WSFE == "" {
		return configError("%s WSFEv1 endpoint is required", c.Mode)
	}

	km := c.ActiveKeyMaterial()
	switch {
	case km.PKCS12Path != "":
	case km.PKCS11Module != "" && km.CertPath != "":
	case km.CertPath != "" && km.KeyPath != "":
	default:
		return configError("%s certificate and key paths are required", c.Mode)
	}

	switch c.Signer.Backend {
	case "pkcs7":
	case "openssl":
		if km.CertPath == "" || km.KeyPath == "" {
			return configError("openssl signer requires PEM certificate and key paths")
		}
	default:
		return configError("unknown signer backend %q", c.Signer.Backend)
	}

	if c.CUITRepresentada != "" && !model.ValidCUIT(c.CUITRepresentada) {
		return configError("cuit_representada %q is not a valid CUIT", c.CUITRepresentada)
	}
	if c.HTTP.Timeout <= 0 {
		return configError("http.timeout must be positive")
	}
	return nil
}

func configError(format string, args ...any) error {
	return model.NewError(model.ErrConfiguration, "", fmt.Errorf(format, args...))
}
