package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"

	"github.com/screa/vanity-miner/internal/crypto"
	"github.com/screa/vanity-miner/pkg/types"
)

// Result stores
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreMongo  = "mongo"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// Errors
var (
	ErrNoTargetSpecified = errors.New("must specify at least one of --prefix, --suffix or --contains")
	ErrUnknownStore      = errors.New("store must be one of memory, file or mongo")
	ErrNoMongoURI        = errors.New("mongo store requires --mongo-uri or MONGODB_URI")
	ErrImpossiblePattern = errors.New("pattern contains characters that never appear in addresses")
	ErrInvalidCount      = errors.New("--count must be at least 1")
	ErrInvalidWorkers    = errors.New("--workers must be at least 1")
)

// Config holds the application configuration
type Config struct {
	Workers       int
	Prefix        string
	Suffix        string
	Contains      string
	CaseSensitive bool
	MaxAttempts   uint64
	Count         uint64 // addresses to persist before stopping
	Scheme        string

	Store           string
	OutFile         string
	MongoURI        string
	MongoDB         string
	MongoCollection string
	AMQPURL         string
	AMQPQueue       string

	TraceServer string
	TraceSecret string

	Verbose     bool
	LogFile     string
	LogInterval int // Logging interval in seconds
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	return &Config{
		Workers:         runtime.NumCPU(),
		Count:           1,
		Scheme:          crypto.SchemeSolana,
		Store:           StoreFile,
		OutFile:         "found_addresses.jsonl",
		MongoDB:         "vanity",
		MongoCollection: "tokenaddresses",
		AMQPQueue:       "vanity.found",
		LogInterval:     1,
	}
}

// LoadEnv reads .env files (missing files are ignored) and applies the
// environment on top of the defaults
func (c *Config) LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	c.ApplyEnv(os.LookupEnv)
	return nil
}

// ApplyEnv overrides fields from environment variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("MONGODB_URI", &c.MongoURI)
	set("VANITY_MONGO_DB", &c.MongoDB)
	set("VANITY_MONGO_COLLECTION", &c.MongoCollection)
	set("AMQP_URL", &c.AMQPURL)
	set("VANITY_AMQP_QUEUE", &c.AMQPQueue)
	set("VANITY_SCHEME", &c.Scheme)
	set("VANITY_STORE", &c.Store)
	set("VANITY_OUT", &c.OutFile)
	set("TRACER_SERVER", &c.TraceServer)
	set("TRACER_SECRET", &c.TraceSecret)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Prefix == "" && c.Suffix == "" && c.Contains == "" {
		return ErrNoTargetSpecified
	}
	if c.Workers < 1 {
		return ErrInvalidWorkers
	}
	if c.Count < 1 {
		return ErrInvalidCount
	}
	if _, err := crypto.New(c.Scheme, nil); err != nil {
		return err
	}
	switch c.Store {
	case StoreMemory, StoreFile:
	case StoreMongo:
		if c.MongoURI == "" {
			return ErrNoMongoURI
		}
	default:
		return ErrUnknownStore
	}
	return c.checkAlphabet()
}

// SearchSpec builds the search pattern for the configured scheme
func (c *Config) SearchSpec() types.SearchSpec {
	spec := types.SearchSpec{
		Prefix:        c.Prefix,
		Suffix:        c.Suffix,
		Contains:      c.Contains,
		CaseSensitive: c.CaseSensitive,
	}
	// Ethereum addresses always start with a lower-case 0x the user may
	// leave out or type as 0X.
	if c.Scheme == crypto.SchemeEthereum && spec.Prefix != "" {
		if hasHexPrefix(spec.Prefix) {
			spec.Prefix = "0x" + spec.Prefix[2:]
		} else {
			spec.Prefix = "0x" + spec.Prefix
		}
	}
	return spec
}

// GetTargetDescription returns a human-readable description of the target
func (c *Config) GetTargetDescription() string {
	return c.SearchSpec().String()
}

func (c *Config) checkAlphabet() error {
	for _, p := range []string{c.Prefix, c.Suffix, c.Contains} {
		if c.Scheme == crypto.SchemeEthereum {
			if hasHexPrefix(p) {
				p = p[2:]
			}
			if !allIn(p, "0123456789abcdefABCDEF", c.CaseSensitive) {
				return fmt.Errorf("%w: %q is not hex", ErrImpossiblePattern, p)
			}
			continue
		}
		if !allIn(p, base58Alphabet, c.CaseSensitive) {
			return fmt.Errorf("%w: %q is not base58", ErrImpossiblePattern, p)
		}
	}
	return nil
}

// allIn reports whether every rune of s can appear in an address drawn from
// alphabet. Without case sensitivity either case of a letter is enough.
func allIn(s, alphabet string, caseSensitive bool) bool {
	for _, r := range s {
		if strings.ContainsRune(alphabet, r) {
			continue
		}
		if !caseSensitive {
			lower, upper := strings.ToLower(string(r)), strings.ToUpper(string(r))
			if strings.Contains(alphabet, lower) || strings.Contains(alphabet, upper) {
				continue
			}
		}
		return false
	}
	return true
}

func hasHexPrefix(s string) bool {
	return len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X")
}
