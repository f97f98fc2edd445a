package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// tlsConfigName is the name used to register custom TLS configs with the MySQL driver.
const tlsConfigName = "navload-custom"

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const sqliteMemoryDSN = "file::memory:?_pragma=foreign_keys(1)"

// DSN returns the data source name for the configured driver. An explicit
// ConnectionString wins over the discrete fields; for MySQL it is normalized
// so that parseTime and the TLS parameter are always present.
func (d *DatabaseConfig) DSN() (string, error) {
	switch d.Driver {
	case DriverPostgres:
		return d.postgresDSN(), nil
	case DriverSQLite:
		return d.sqliteDSN(), nil
	default:
		return d.mysqlDSN()
	}
}

// IsMemory reports whether the DSN names a private in-memory SQLite database,
// which only exists for the lifetime of a single connection.
func (d *DatabaseConfig) IsMemory() bool {
	if d.Driver != DriverSQLite {
		return false
	}
	dsn := d.sqliteDSN()
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

func (d *DatabaseConfig) mysqlDSN() (string, error) {
	cfg := mysql.NewConfig()
	if d.ConnectionString != "" {
		parsed, err := mysql.ParseDSN(d.ConnectionString)
		if err != nil {
			return "", fmt.Errorf("database.dsn is invalid: %w", err)
		}
		cfg = parsed
	} else {
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
		cfg.DBName = d.Database
	}
	cfg.ParseTime = true
	if tlsParam := d.effectiveTLSParam(); tlsParam != "" && cfg.TLSConfig == "" {
		cfg.TLSConfig = tlsParam
	}
	return cfg.FormatDSN(), nil
}

func (d *DatabaseConfig) postgresDSN() string {
	if d.ConnectionString != "" {
		return d.ConnectionString
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Database,
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.User, d.Password)
	} else if d.User != "" {
		u.User = url.User(d.User)
	}
	params := url.Values{}
	if mode := postgresSSLMode(d.TLS.Mode); mode != "" {
		params.Set("sslmode", mode)
	}
	if d.TLS.CAFile != "" {
		params.Set("sslrootcert", d.TLS.CAFile)
	}
	if d.TLS.CertFile != "" {
		params.Set("sslcert", d.TLS.CertFile)
	}
	if d.TLS.KeyFile != "" {
		params.Set("sslkey", d.TLS.KeyFile)
	}
	u.RawQuery = params.Encode()
	return u.String()
}

func postgresSSLMode(mode string) string {
	switch mode {
	case "off":
		return "disable"
	case "skip-verify":
		return "require"
	case "verify-ca", "verify-full":
		return mode
	default:
		return ""
	}
}

func (d *DatabaseConfig) sqliteDSN() string {
	if d.ConnectionString != "" {
		return d.ConnectionString
	}
	if d.Path == "" || d.Path == ":memory:" {
		return sqliteMemoryDSN
	}
	return "file:" + d.Path + "?_pragma=foreign_keys(1)"
}

// EffectiveDatabaseName returns the database (schema) name used for
// introspection, and where it came from.
func (d *DatabaseConfig) EffectiveDatabaseName() (name string, source string, err error) {
	configDatabase := strings.TrimSpace(d.Database)
	var dsnDatabase string
	switch d.Driver {
	case DriverSQLite:
		return "main", "sqlite", nil
	case DriverPostgres:
		dsnDatabase, err = parsePostgresDatabaseName(d.ConnectionString)
	default:
		dsnDatabase, err = parseMySQLDatabaseName(d.ConnectionString)
	}
	if err != nil {
		return "", "", err
	}

	if configDatabase != "" {
		if dsnDatabase != "" && configDatabase != dsnDatabase {
			return "", "", fmt.Errorf(
				"database mismatch: database.database=%q but database.dsn targets %q",
				configDatabase,
				dsnDatabase,
			)
		}
		return configDatabase, "database.database", nil
	}
	if dsnDatabase != "" {
		return dsnDatabase, "dsn", nil
	}
	return "", "", fmt.Errorf(
		"no effective database name configured: set database.database or include the database in database.dsn/database.dsn_file",
	)
}

func parseMySQLDatabaseName(connectionString string) (string, error) {
	dsn := strings.TrimSpace(connectionString)
	if dsn == "" {
		return "", nil
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("database.dsn is invalid: %w", err)
	}
	return strings.TrimSpace(parsed.DBName), nil
}

// parsePostgresDatabaseName accepts both URL and key=value connection strings.
func parsePostgresDatabaseName(connectionString string) (string, error) {
	dsn := strings.TrimSpace(connectionString)
	if dsn == "" {
		return "", nil
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		converted, err := pq.ParseURL(dsn)
		if err != nil {
			return "", fmt.Errorf("database.dsn is invalid: %w", err)
		}
		dsn = converted
	}
	return conninfoValue(dsn, "dbname"), nil
}

// conninfoValue reads one key from a libpq key=value string, honoring
// single-quoted values with backslash escapes.
func conninfoValue(conninfo, key string) string {
	s := conninfo
	for {
		s = strings.TrimLeft(s, " \t\n")
		if s == "" {
			return ""
		}
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			return ""
		}
		k := strings.TrimSpace(s[:eq])
		s = strings.TrimLeft(s[eq+1:], " ")

		var v strings.Builder
		if strings.HasPrefix(s, "'") {
			i := 1
			for ; i < len(s) && s[i] != '\''; i++ {
				if s[i] == '\\' && i+1 < len(s) {
					i++
				}
				v.WriteByte(s[i])
			}
			s = s[min(i+1, len(s)):]
		} else {
			end := strings.IndexAny(s, " \t\n")
			if end < 0 {
				end = len(s)
			}
			v.WriteString(s[:end])
			s = s[end:]
		}
		if k == key {
			return v.String()
		}
	}
}

// effectiveTLSParam returns the MySQL tls parameter for the configured mode.
func (d *DatabaseConfig) effectiveTLSParam() string {
	switch d.TLS.Mode {
	case "":
		return ""
	case "off":
		return "false"
	case "skip-verify":
		return "skip-verify"
	case "verify-ca", "verify-full":
		return tlsConfigName
	default:
		return d.TLS.Mode
	}
}

// RegisterTLS registers a custom TLS configuration with the MySQL driver.
// Must be called before opening a MySQL connection in verify-ca or
// verify-full mode; it is a no-op otherwise.
func (d *DatabaseConfig) RegisterTLS() error {
	if d.Driver != DriverMySQL || (d.TLS.Mode != "verify-ca" && d.TLS.Mode != "verify-full") {
		return nil
	}
	tlsCfg, err := d.buildTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to build TLS config: %w", err)
	}
	if err := mysql.RegisterTLSConfig(tlsConfigName, tlsCfg); err != nil {
		return fmt.Errorf("failed to register TLS config: %w", err)
	}
	return nil
}

func (d *DatabaseConfig) buildTLSConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if d.TLS.CAFile != "" {
		caCert, err := os.ReadFile(d.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %q: %w", d.TLS.CAFile, err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %q", d.TLS.CAFile)
		}
		tlsCfg.RootCAs = certPool
	}

	if d.TLS.CertFile != "" && d.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(d.TLS.CertFile, d.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	} else if d.TLS.CertFile != "" || d.TLS.KeyFile != "" {
		return nil, fmt.Errorf("both cert_file and key_file must be specified for client certificate authentication")
	}

	if d.TLS.Mode == "verify-full" && d.TLS.ServerName != "" {
		tlsCfg.ServerName = d.TLS.ServerName
	}
	return tlsCfg, nil
}
