// Package mongodb provides MongoDB options.
package mongodb

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/answerd/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// redactedPassword is the placeholder used when serializing passwords.
const redactedPassword = "[REDACTED]"

// Options defines configuration options for MongoDB.
type Options struct {
	// URI is the full MongoDB connection URI. When set it takes
	// precedence over the host/port fields.
	URI      string `json:"uri" mapstructure:"uri"`
	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"-" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`

	ConnectTimeout time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
	SocketTimeout  time.Duration `json:"socket-timeout" mapstructure:"socket-timeout"`
	MaxPoolSize    uint64        `json:"max-pool-size" mapstructure:"max-pool-size"`
}

// NewOptions creates a new Options object with default values.
func NewOptions() *Options {
	return &Options{
		Host:           "127.0.0.1",
		Port:           27017,
		Database:       "answerd",
		ConnectTimeout: 10 * time.Second,
		SocketTimeout:  30 * time.Second,
		MaxPoolSize:    100,
	}
}

// Complete reads sensitive fields from the environment when unset.
func (o *Options) Complete() error {
	if o.Password == "" {
		o.Password = os.Getenv("MONGODB_PASSWORD")
	}
	return nil
}

// ConnectionURI returns the URI to dial, built from the host fields
// when no explicit URI was configured.
func (o *Options) ConnectionURI() string {
	if o.URI != "" {
		return o.URI
	}
	if o.Username != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s:%d", o.Username, o.Password, o.Host, o.Port)
	}
	return fmt.Sprintf("mongodb://%s:%d", o.Host, o.Port)
}

// String returns a string representation with password redacted.
func (o *Options) String() string {
	password := redactedPassword
	if o.Password == "" {
		password = ""
	}
	return fmt.Sprintf("MongoDB{host=%s, port=%d, user=%s, password=%s, database=%s}",
		o.Host, o.Port, o.Username, password, o.Database)
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.URI, options.Join(prefixes...)+"mongo.uri", o.URI, "MongoDB connection URI, overrides host/port.")
	fs.StringVar(&o.Host, options.Join(prefixes...)+"mongo.host", o.Host, "MongoDB host.")
	fs.IntVar(&o.Port, options.Join(prefixes...)+"mongo.port", o.Port, "MongoDB port.")
	fs.StringVar(&o.Username, options.Join(prefixes...)+"mongo.username", o.Username, "MongoDB username.")
	fs.StringVar(&o.Password, options.Join(prefixes...)+"mongo.password", o.Password, "MongoDB password (prefer MONGODB_PASSWORD).")
	fs.StringVar(&o.Database, options.Join(prefixes...)+"mongo.database", o.Database, "MongoDB database name.")
	fs.DurationVar(&o.ConnectTimeout, options.Join(prefixes...)+"mongo.connect-timeout", o.ConnectTimeout, "MongoDB connect timeout.")
	fs.DurationVar(&o.SocketTimeout, options.Join(prefixes...)+"mongo.socket-timeout", o.SocketTimeout, "MongoDB socket timeout.")
	fs.Uint64Var(&o.MaxPoolSize, options.Join(prefixes...)+"mongo.max-pool-size", o.MaxPoolSize, "MongoDB maximum connection pool size.")
}

// Validate checks if the options are valid.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.URI == "" && o.Host == "" {
		errs = append(errs, fmt.Errorf("mongo uri or host is required"))
	}
	if o.Database == "" {
		errs = append(errs, fmt.Errorf("mongo database is required"))
	}
	if o.Port <= 0 || o.Port > 65535 {
		errs = append(errs, fmt.Errorf("mongo port %d is out of range", o.Port))
	}
	return errs
}
