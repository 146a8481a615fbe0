// Package config loads the bot's YAML configuration and resolves the
// per-chain runtime settings (RPC endpoints, contract addresses, cadence
// tables, notification thresholds) together with the required environment
// variables.
package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v2"
)

// ErrMissingEnv is returned when a required environment variable is unset.
var ErrMissingEnv = errors.New("missing required environment variable")

// requiredEnvVars must be present before any chain stack is constructed.
var requiredEnvVars = []string{
	"LIQUIDATOR_EOA",
	"LIQUIDATOR_PRIVATE_KEY",
	"ONEINCH_API_KEY",
}

// File is the top-level YAML document: a global section plus one record
// per chain id.
type File struct {
	Global GlobalConfig        `yaml:"global"`
	Chains map[int64]ChainYAML `yaml:"chains"`
}

// GlobalConfig holds settings shared by every chain stack.
type GlobalConfig struct {
	LogsDir  string `yaml:"logs_dir"`
	StateDir string `yaml:"state_dir"`
	APIPort  int    `yaml:"api_port"`
}

// ChainYAML is the raw per-chain record as it appears on disk. Interval
// fields are seconds; size thresholds and notification thresholds are USD.
type ChainYAML struct {
	Name        string `yaml:"name"`
	RPCEnv      string `yaml:"rpc_env"`
	ExplorerURL string `yaml:"explorer_url"`

	Factory struct {
		Address         string `yaml:"address"`
		DeploymentBlock uint64 `yaml:"deployment_block"`
	} `yaml:"factory"`

	Contracts struct {
		EVC             string `yaml:"evc"`
		HealthViewer    string `yaml:"health_viewer"`
		EulerLiquidator string `yaml:"euler_liquidator"`
		AaveLiquidator  string `yaml:"aave_liquidator"`
		USDS            string `yaml:"usds"`
	} `yaml:"contracts"`

	Swap struct {
		MinReturnOffset int `yaml:"min_return_offset"`
	} `yaml:"swap"`

	Health struct {
		Liquidation float64 `yaml:"liquidation"`
		HighRisk    float64 `yaml:"high_risk"`
		Safe        float64 `yaml:"safe"`
	} `yaml:"health"`

	// Bucket upper bounds in USD. A position belongs to the first bucket
	// whose bound exceeds its total borrow; anything above Medium is Large.
	Sizes struct {
		Teeny  float64 `yaml:"teeny"`
		Mini   float64 `yaml:"mini"`
		Small  float64 `yaml:"small"`
		Medium float64 `yaml:"medium"`
	} `yaml:"sizes"`

	// Re-check intervals per bucket, seconds, fastest to slowest.
	Intervals struct {
		MaxUpdate float64        `yaml:"max_update"`
		Teeny     BucketYAML     `yaml:"teeny"`
		Mini      BucketYAML     `yaml:"mini"`
		Small     BucketYAML     `yaml:"small"`
		Medium    BucketYAML     `yaml:"medium"`
		Large     BucketYAML     `yaml:"large"`
	} `yaml:"intervals"`

	Scanner struct {
		ScanInterval  int    `yaml:"scan_interval"`
		RetryDelay    int    `yaml:"retry_delay"`
		BatchSize     uint64 `yaml:"batch_size"`
		BatchInterval int    `yaml:"batch_interval"`
	} `yaml:"scanner"`

	SaveInterval int `yaml:"save_interval"`

	Notify struct {
		SmallPositionThreshold      float64 `yaml:"small_position_threshold"`
		LowHealthReportInterval     int     `yaml:"low_health_report_interval"`
		ErrorCooldown               int     `yaml:"error_cooldown"`
		SmallPositionReportInterval int     `yaml:"small_position_report_interval"`
		ReportHealthScore           float64 `yaml:"report_health_score"`
		BorrowValueThreshold        float64 `yaml:"borrow_value_threshold"`
	} `yaml:"notify"`
}

// BucketYAML is one row of the cadence table.
type BucketYAML struct {
	Liq  float64 `yaml:"liq"`
	High float64 `yaml:"high"`
	Safe float64 `yaml:"safe"`
}

// CadenceBucket holds the three re-check intervals of one size bucket.
type CadenceBucket struct {
	Liq  time.Duration
	High time.Duration
	Safe time.Duration
}

// Cadence is the resolved cadence table: health thresholds, size bucket
// bounds and the per-bucket interval rows.
type Cadence struct {
	HSLiquidation float64
	HSHighRisk    float64
	HSSafe        float64

	TeenyMax  float64
	MiniMax   float64
	SmallMax  float64
	MediumMax float64

	Teeny  CadenceBucket
	Mini   CadenceBucket
	Small  CadenceBucket
	Medium CadenceBucket
	Large  CadenceBucket

	MaxUpdateInterval time.Duration
}

// Chain is the fully resolved runtime configuration for one chain.
type Chain struct {
	ChainID     int64
	Name        string
	RPCURL      string
	ExplorerURL string

	FactoryAddress  common.Address
	DeploymentBlock uint64

	EVC             common.Address
	HealthViewer    common.Address
	EulerLiquidator common.Address
	AaveLiquidator  common.Address
	USDS            common.Address

	LiquidatorEOA common.Address
	LiquidatorKey *ecdsa.PrivateKey

	OneInchAPIKey   string
	MinReturnOffset int

	NotificationURL  string
	RiskDashboardURL string
	MentionIDs       []string
	WatchlistVaults  map[common.Address]bool

	Cadence Cadence

	ScanInterval  time.Duration
	RetryDelay    time.Duration
	BatchSize     uint64
	BatchInterval time.Duration
	SaveInterval  time.Duration

	SmallPositionThreshold      float64
	LowHealthReportInterval     time.Duration
	ErrorCooldown               time.Duration
	SmallPositionReportInterval time.Duration
	ReportHealthScore           float64
	BorrowValueThreshold        float64

	StateFile string
	LogFile   string
}

// Load reads and parses the YAML config file.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg File
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ValidateEnv checks that every required environment variable is set.
func ValidateEnv() error {
	var missing []string
	for _, key := range requiredEnvVars {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}
	return nil
}

// ResolveChain builds the runtime Chain config for one chain id, pulling
// secrets and endpoints from the environment.
func (f *File) ResolveChain(chainID int64) (*Chain, error) {
	raw, ok := f.Chains[chainID]
	if !ok {
		return nil, fmt.Errorf("no configuration for chain id %d", chainID)
	}
	if err := ValidateEnv(); err != nil {
		return nil, err
	}

	rpcURL := os.Getenv(raw.RPCEnv)
	if rpcURL == "" {
		return nil, fmt.Errorf("%w: %s (RPC endpoint for %s)", ErrMissingEnv, raw.RPCEnv, raw.Name)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(os.Getenv("LIQUIDATOR_PRIVATE_KEY"), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse LIQUIDATOR_PRIVATE_KEY: %w", err)
	}

	watchlist := make(map[common.Address]bool)
	for _, v := range splitCSV(os.Getenv("WATCHLIST_VAULTS")) {
		watchlist[common.HexToAddress(v)] = true
	}

	minReturnOffset := raw.Swap.MinReturnOffset
	if minReturnOffset == 0 {
		minReturnOffset = DefaultMinReturnOffset
	}

	c := &Chain{
		ChainID:     chainID,
		Name:        raw.Name,
		RPCURL:      rpcURL,
		ExplorerURL: raw.ExplorerURL,

		FactoryAddress:  common.HexToAddress(raw.Factory.Address),
		DeploymentBlock: raw.Factory.DeploymentBlock,

		EVC:             common.HexToAddress(raw.Contracts.EVC),
		HealthViewer:    common.HexToAddress(raw.Contracts.HealthViewer),
		EulerLiquidator: common.HexToAddress(raw.Contracts.EulerLiquidator),
		AaveLiquidator:  common.HexToAddress(raw.Contracts.AaveLiquidator),
		USDS:            common.HexToAddress(raw.Contracts.USDS),

		LiquidatorEOA: common.HexToAddress(os.Getenv("LIQUIDATOR_EOA")),
		LiquidatorKey: key,

		OneInchAPIKey:   os.Getenv("ONEINCH_API_KEY"),
		MinReturnOffset: minReturnOffset,

		NotificationURL:  os.Getenv("NOTIFICATION_URL"),
		RiskDashboardURL: os.Getenv("RISK_DASHBOARD_URL"),
		MentionIDs:       splitCSV(os.Getenv("SLACK_MENTION_IDS")),
		WatchlistVaults:  watchlist,

		Cadence: Cadence{
			HSLiquidation: raw.Health.Liquidation,
			HSHighRisk:    raw.Health.HighRisk,
			HSSafe:        raw.Health.Safe,

			TeenyMax:  raw.Sizes.Teeny,
			MiniMax:   raw.Sizes.Mini,
			SmallMax:  raw.Sizes.Small,
			MediumMax: raw.Sizes.Medium,

			Teeny:  raw.Intervals.Teeny.resolve(),
			Mini:   raw.Intervals.Mini.resolve(),
			Small:  raw.Intervals.Small.resolve(),
			Medium: raw.Intervals.Medium.resolve(),
			Large:  raw.Intervals.Large.resolve(),

			MaxUpdateInterval: seconds(raw.Intervals.MaxUpdate),
		},

		ScanInterval:  time.Duration(raw.Scanner.ScanInterval) * time.Second,
		RetryDelay:    time.Duration(raw.Scanner.RetryDelay) * time.Second,
		BatchSize:     raw.Scanner.BatchSize,
		BatchInterval: time.Duration(raw.Scanner.BatchInterval) * time.Second,
		SaveInterval:  time.Duration(raw.SaveInterval) * time.Second,

		SmallPositionThreshold:      raw.Notify.SmallPositionThreshold,
		LowHealthReportInterval:     time.Duration(raw.Notify.LowHealthReportInterval) * time.Second,
		ErrorCooldown:               time.Duration(raw.Notify.ErrorCooldown) * time.Second,
		SmallPositionReportInterval: time.Duration(raw.Notify.SmallPositionReportInterval) * time.Second,
		ReportHealthScore:           raw.Notify.ReportHealthScore,
		BorrowValueThreshold:        raw.Notify.BorrowValueThreshold,

		StateFile: filepath.Join(f.Global.StateDir, raw.Name+"_state.json"),
		LogFile:   filepath.Join(f.Global.LogsDir, raw.Name+"_monitor.log"),
	}
	return c, nil
}

// DefaultMinReturnOffset is the byte offset of the encoded minReturn
// argument inside 1inch v6 router swap calldata. Tied to the router ABI
// version; override per chain via swap.min_return_offset.
const DefaultMinReturnOffset = 196

func (b BucketYAML) resolve() CadenceBucket {
	return CadenceBucket{
		Liq:  seconds(b.Liq),
		High: seconds(b.High),
		Safe: seconds(b.Safe),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
