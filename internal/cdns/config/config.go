// Package config loads and validates the capture encoder configuration.
// Values come from defaults, an optional YAML file, and environment
// variables with the CDNS_ prefix, loaded in that order; each source
// overrides the ones before it.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ExcludeHints is the set of optional output fields suppressed from the
// capture. Each hint is independent; enabling one only removes that field
// from the output.
type ExcludeHints struct {
	ServerAddress    bool `koanf:"server_address"`
	ServerPort       bool `koanf:"server_port"`
	Transport        bool `koanf:"transport"`
	TransactionType  bool `koanf:"transaction_type"`
	DNSFlags         bool `koanf:"dns_flags"`
	Timestamp        bool `koanf:"timestamp"`
	ClientAddress    bool `koanf:"client_address"`
	ClientPort       bool `koanf:"client_port"`
	TransactionID    bool `koanf:"transaction_id"`
	QueryQDCount     bool `koanf:"query_qdcount"`
	QueryClassType   bool `koanf:"query_class_type"`
	QueryName        bool `koanf:"query_name"`
	QuerySize        bool `koanf:"query_size"`
	ClientHopLimit   bool `koanf:"client_hoplimit"`
	QueryOpcode      bool `koanf:"query_opcode"`
	QueryRcode       bool `koanf:"query_rcode"`
	QueryANCount     bool `koanf:"query_ancount"`
	QueryARCount     bool `koanf:"query_arcount"`
	QueryNSCount     bool `koanf:"query_nscount"`
	QueryUDPSize     bool `koanf:"query_udp_size"`
	QueryEDNSVersion bool `koanf:"query_edns_version"`
	QueryOptRData    bool `koanf:"query_opt_rdata"`
	ResponseSize     bool `koanf:"response_size"`
	ResponseRcode    bool `koanf:"response_rcode"`
	ResponseDelay    bool `koanf:"response_delay"`
	QRFlags          bool `koanf:"qr_flags"`
	QRSignature      bool `koanf:"qr_signature"`
	RRTTL            bool `koanf:"rr_ttl"`
	RRRData          bool `koanf:"rr_rdata"`
	AddressEvents    bool `koanf:"address_events"`
}

// Configuration holds all capture encoder settings.
type Configuration struct {
	// OutputPattern is the output filename pattern with strftime-style
	// time substitutions. The compression extension is appended before
	// substitution.
	OutputPattern string `koanf:"output_pattern" validate:"required"`

	// RotationPeriod is the file rotation period in seconds.
	RotationPeriod uint `koanf:"rotation_period" validate:"required,gte=1"`

	// MaxOutputSize rotates the output file once it reaches this many
	// bytes. 0 disables size-based rotation.
	MaxOutputSize uint64 `koanf:"max_output_size"`

	// MaxBlockItems is the number of query/response records per block.
	MaxBlockItems uint `koanf:"max_block_items" validate:"required,gte=1"`

	// Compression selects the output compression: none, gzip or xz.
	Compression string `koanf:"compression" validate:"oneof=none gzip xz"`

	// CompressionLevel is the gzip compression level; 0 uses the default.
	// xz output ignores it and always uses the xz writer's default settings.
	CompressionLevel int `koanf:"compression_level" validate:"gte=0,lte=9"`

	// Address prefix lengths in bits. Address bits beyond the prefix are
	// zeroed before storage.
	ClientAddressPrefixIPv4 uint `koanf:"client_address_prefix_ipv4" validate:"lte=32"`
	ClientAddressPrefixIPv6 uint `koanf:"client_address_prefix_ipv6" validate:"lte=128"`
	ServerAddressPrefixIPv4 uint `koanf:"server_address_prefix_ipv4" validate:"lte=32"`
	ServerAddressPrefixIPv6 uint `koanf:"server_address_prefix_ipv6" validate:"lte=128"`

	// StartEndTimesFromData derives block start and end times from record
	// timestamps instead of wall time.
	StartEndTimesFromData bool `koanf:"start_end_times_from_data"`

	// LogFileHandling logs file open/rename/rotation activity.
	LogFileHandling bool `koanf:"log_file_handling"`

	ExcludeHints ExcludeHints `koanf:"exclude_hints"`

	// OutputQuerySections and OutputResponseSections store the full
	// question and record sections of queries and responses, beyond the
	// summarized first question.
	OutputQuerySections    bool `koanf:"output_query_sections"`
	OutputResponseSections bool `koanf:"output_response_sections"`

	// Collection parameters recorded in the file preamble.
	QueryTimeoutMillis uint     `koanf:"query_timeout"`
	SkewTimeoutMicros  uint     `koanf:"skew_timeout"`
	Snaplen            uint     `koanf:"snaplen"`
	DNSPort            uint     `koanf:"dns_port" validate:"lte=65535"`
	Promisc            bool     `koanf:"promisc"`
	Interfaces         []string `koanf:"interfaces"`
	ServerAddresses    []string `koanf:"server_addresses" validate:"dive,ip"`
	VLANIDs            []uint   `koanf:"vlan_ids"`
	Filter             string   `koanf:"filter"`
	GeneratorID        string   `koanf:"generator_id"`
	HostID             string   `koanf:"host_id"`

	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity.
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`
}

// DEFAULT_CONFIGURATION defines the default capture encoder settings.
var DEFAULT_CONFIGURATION = Configuration{
	OutputPattern:           "cdns-%Y%m%d-%H%M%S",
	RotationPeriod:          300,
	MaxOutputSize:           0,
	MaxBlockItems:           5000,
	Compression:             "none",
	CompressionLevel:        0,
	ClientAddressPrefixIPv4: 32,
	ClientAddressPrefixIPv6: 128,
	ServerAddressPrefixIPv4: 32,
	ServerAddressPrefixIPv6: 128,
	StartEndTimesFromData:   false,
	LogFileHandling:         false,
	QueryTimeoutMillis:      5000,
	SkewTimeoutMicros:       10,
	Snaplen:                 65535,
	DNSPort:                 53,
	Promisc:                 false,
	GeneratorID:             "cdnsd",
	Env:                     "prod",
	LogLevel:                "info",
}

// defaultLoader loads default values using the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_CONFIGURATION, "koanf"), nil)
}

// fileLoader loads an optional YAML configuration file.
var fileLoader = func(k *koanf.Koanf, path string) error {
	if path == "" {
		return nil
	}
	return k.Load(file.Provider(path), yaml.Parser())
}

// envLoader loads environment variables with the prefix "CDNS_",
// lowercasing keys and splitting list values on commas or spaces.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "CDNS_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "CDNS_"))
			key = strings.ReplaceAll(key, "__", ".")
			value = strings.TrimSpace(value)

			if value == "" {
				return key, value
			}

			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
				return key, parts
			}

			return key, value
		},
	}), nil)
}

// Load parses the configuration from defaults, the optional YAML file at
// path, and the environment. It applies validation automatically.
func Load(path string) (*Configuration, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if err := fileLoader(k, path); err != nil {
		return nil, fmt.Errorf("error loading config file: %w", err)
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg Configuration
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks a configuration against its constraints.
func Validate(cfg *Configuration) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}
