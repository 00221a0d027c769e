package core

import (
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env      string
		Debug    bool
		TestMode bool
		AppName  string
		Build    string

		SecretKey        string
		DefaultFromEmail mail.Address
		SendgridApiKey   string
		RollbarToken     string

		Server       ServerConfig
		Storage      StorageConfig
		Requirements RequirementsConfig
	}

	ServerConfig struct {
		Host                      string
		Port                      int
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	StorageConfig struct {
		// Path is the sqlite file backing the local key-value store.
		Path string
	}

	RequirementsConfig struct {
		// RegistryURL is the base URL of the remote requirements registry.
		RegistryURL string
		// LetterMaxBytes caps the "Letter of Application" item.
		LetterMaxBytes int64
		// DefaultMaxBytes caps every other item.
		DefaultMaxBytes int64
		// FilenameMaxLen bounds uploaded filenames; longer names are
		// middle-truncated keeping the extension.
		FilenameMaxLen int
	}
)

func NewConfig() *Config {
	conf := viper.New()
	conf.SetTypeByDefaultValue(true)

	// defaults
	conf.SetDefault("debug", true)
	conf.SetDefault("appName", "Elimu")
	conf.SetDefault("build", "dev")
	conf.SetDefault("secretKey", "w3y^$begm2-q5(h!x)#*c2(#msoq4h-wer)enb$+57=dz&uoxh2")
	conf.SetDefault("defaultFromEmail", "noreply@localhost")
	conf.SetDefault("sendgridApiKey", "")
	conf.SetDefault("rollbarToken", "")
	conf.SetDefault("serverHost", "")
	conf.SetDefault("serverPort", 8000)
	conf.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	conf.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)
	conf.SetDefault("storagePath", filepath.Join(os.TempDir(), "elimu.db"))
	conf.SetDefault("registryURL", "http://localhost:9000")
	conf.SetDefault("letterMaxBytes", int64(5<<20))
	conf.SetDefault("defaultMaxBytes", int64(25<<20))
	conf.SetDefault("filenameMaxLen", 100)

	env := os.Getenv("ENV") // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
	}
	conf.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	return &Config{
		Env:              env,
		Debug:            conf.GetBool("debug"),
		TestMode:         conf.GetBool("testMode"),
		AppName:          conf.GetString("appName"),
		Build:            conf.GetString("build"),
		SecretKey:        conf.GetString("secretKey"),
		DefaultFromEmail: mail.Address{Name: conf.GetString("appName"), Address: conf.GetString("defaultFromEmail")},
		SendgridApiKey:   conf.GetString("sendgridApiKey"),
		RollbarToken:     conf.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:                      conf.GetString("serverHost"),
			Port:                      conf.GetInt("serverPort"),
			JWTExpirationDelta:        conf.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: conf.GetDuration("jwtRefreshExpirationDelta"),
		},
		Storage: StorageConfig{
			Path: conf.GetString("storagePath"),
		},
		Requirements: RequirementsConfig{
			RegistryURL:     conf.GetString("registryURL"),
			LetterMaxBytes:  conf.GetInt64("letterMaxBytes"),
			DefaultMaxBytes: conf.GetInt64("defaultMaxBytes"),
			FilenameMaxLen:  conf.GetInt("filenameMaxLen"),
		},
	}
}
