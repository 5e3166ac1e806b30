package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// PostgresConfig defines the configuration for connecting to the PostgreSQL blob store.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	// SSMPrefix points at a Parameter Store path holding host, user and password
	// (e.g. "/pricetracker/db"). Only consulted in the prod environment.
	SSMPrefix string `mapstructure:"ssm_prefix"`

	// CreateDB creates DBName through the admin connection before migrating.
	CreateDB bool `mapstructure:"create_db"`
}

// DSN builds a lib/pq style connection string. In prod the host and
// credentials come from AWS SSM when SSMPrefix is set; missing parameters fall
// back to the configured values.
func (cfg PostgresConfig) DSN(env string) string {
	host, user, password := cfg.Host, cfg.User, cfg.Password

	if env == "prod" && cfg.SSMPrefix != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		params, err := getParameterStoreValues(ctx, cfg.SSMPrefix, "host", "user", "password")
		cancel()
		if err == nil {
			host = firstNonEmpty(params["host"], host)
			user = firstNonEmpty(params["user"], user)
			password = firstNonEmpty(params["password"], password)
		}
	}

	return cfg.dsnFor(host, user, password, cfg.DBName)
}

// AdminDSN targets the server's default "postgres" database, used to create
// the application database before connecting to it.
func (cfg PostgresConfig) AdminDSN() string {
	return cfg.dsnFor(cfg.Host, cfg.User, cfg.Password, "postgres")
}

func (cfg PostgresConfig) dsnFor(host, user, password, dbName string) string {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, cfg.Port, user, password, dbName, cfg.SSLMode,
	)
	if cfg.TimeZone != "" {
		dsn += fmt.Sprintf(" TimeZone=%s", cfg.TimeZone)
	}
	return dsn
}

// getParameterStoreValues reads prefix/name for every name in one SSM call and
// returns the decrypted values keyed by name.
func getParameterStoreValues(ctx context.Context, prefix string, names ...string) (map[string]string, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := ssm.NewFromConfig(awsCfg)

	prefix = strings.TrimSuffix(prefix, "/")
	fullNames := make([]string, 0, len(names))
	for _, n := range names {
		fullNames = append(fullNames, prefix+"/"+n)
	}

	decrypt := true
	out, err := client.GetParameters(ctx, &ssm.GetParametersInput{
		Names:          fullNames,
		WithDecryption: &decrypt,
	})
	if err != nil {
		return nil, fmt.Errorf("get parameters: %w", err)
	}

	values := make(map[string]string, len(out.Parameters))
	for _, p := range out.Parameters {
		if p.Name == nil || p.Value == nil {
			continue
		}
		values[strings.TrimPrefix(*p.Name, prefix+"/")] = *p.Value
	}
	return values, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
