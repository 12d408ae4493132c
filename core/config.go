package core

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host                      string
		Port                      string
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		ShutdownTimeout           time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Name          string
		Host          string
		Port          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	// ClientConfig configures the portal-side session machinery: where the
	// identity endpoint lives and where the bearer token is kept between runs.
	ClientConfig struct {
		BaseURL   string
		Timeout   time.Duration
		TokenFile string // empty: resolved under the user config dir
	}

	Config struct {
		Env      string
		Debug    bool
		TestMode bool

		AppName   string
		Build     string
		SecretKey string

		FrontendBaseURL  string
		DefaultFromEmail string

		SendgridApiKey string
		RollbarToken   string

		PasswordResetTimeoutDelta time.Duration

		Server   ServerConfig
		Database DatabaseConfig
		Client   ClientConfig
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// NewConfig loads the app configuration from defaults, an optional
// config/.env.<env> file and environment variables prefixed with the env name.
func NewConfig() (*Config, error) {
	v := viper.New()

	// defaults
	v.SetDefault("debug", true)
	v.SetDefault("testmode", false)
	v.SetDefault("appname", "Fluency")
	v.SetDefault("build", "dev")
	v.SetDefault("secretkey", "w3lc0me-t0-flu3ncy!-ch4ng3-m3-1n-pr0d")
	v.SetDefault("frontendbaseurl", "http://localhost:3000")
	v.SetDefault("defaultfromemail", "noreply@localhost")
	v.SetDefault("sendgridapikey", "")
	v.SetDefault("rollbartoken", "")
	v.SetDefault("passwordresettimeoutdelta", 3*24*time.Hour)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.jwtexpirationdelta", 7*24*time.Hour)
	v.SetDefault("server.jwtrefreshexpirationdelta", 4*time.Hour)
	v.SetDefault("server.shutdowntimeout", 5*time.Second)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.name", "fluency")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "fluency")
	v.SetDefault("database.password", "fluency")
	v.SetDefault("database.adminuser", "")
	v.SetDefault("database.adminpassword", "")
	v.SetDefault("database.disabletls", true)

	v.SetDefault("client.baseurl", "http://localhost:8000")
	v.SetDefault("client.timeout", 10*time.Second)
	v.SetDefault("client.tokenfile", "")

	env := os.Getenv("ENV") // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testmode", true)
	case "PROD":
		v.SetDefault("debug", false)
	}

	// load config/.env.<env> if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err = godotenv.Load(dotEnvPath); err != nil {
			return nil, errors.Wrapf(err, "loading %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "checking %s", dotEnvPath)
	}

	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	conf := &Config{Env: env}
	if err := v.Unmarshal(conf); err != nil {
		return nil, errors.Wrap(err, "unmarshalling config")
	}
	return conf, nil
}
