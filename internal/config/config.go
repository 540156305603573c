// Package config holds server settings. Values come from command-line flags,
// then PUZZLEDUEL_* environment variables, then built-in defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/DoyleJ11/puzzle-duel-backend/internal/imagery"
)

const EnvPrefix = "PUZZLEDUEL"

const (
	MinBoardSize = 2
	MaxBoardSize = 8
)

var (
	ErrPort        = errors.New("invalid port")
	ErrBoardSize   = errors.New("invalid board size")
	ErrDuration    = errors.New("durations must not be negative")
	ErrImageTopic  = errors.New("image topic must not be empty")
	ErrFallbackURL = errors.New("fallback image url must not be empty")
)

type Config struct {
	Bind      string
	Port      int
	PublicURL string
	Verbose   bool

	BoardSize        int
	ImageTopic       string
	UnsplashKey      string
	ImageTimeout     time.Duration
	FallbackImageURL string

	RoomTTL        time.Duration
	DatabaseURL    string
	StrictMoves    bool
	AllowedOrigins []string
}

func Default() Config {
	return Config{
		Bind:             "0.0.0.0",
		Port:             8080,
		BoardSize:        3,
		ImageTopic:       "puzzle",
		ImageTimeout:     5 * time.Second,
		FallbackImageURL: imagery.DefaultFallbackURL,
		RoomTTL:          60 * time.Minute,
	}
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w (must be between 1-65535 inclusive): %d", ErrPort, c.Port)
	}
	if c.BoardSize < MinBoardSize || c.BoardSize > MaxBoardSize {
		return fmt.Errorf("%w (must be between %d-%d inclusive): %d", ErrBoardSize, MinBoardSize, MaxBoardSize, c.BoardSize)
	}
	if c.ImageTimeout < 0 || c.RoomTTL < 0 {
		return ErrDuration
	}
	if strings.TrimSpace(c.ImageTopic) == "" {
		return ErrImageTopic
	}
	if strings.TrimSpace(c.FallbackImageURL) == "" {
		return ErrFallbackURL
	}
	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// RegisterFlags binds every setting to a flag on fs, seeded with c's
// current values as defaults.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&c.Bind, "bind", "b", c.Bind, "address to bind to (env: PUZZLEDUEL_BIND)")
	fs.IntVarP(&c.Port, "port", "p", c.Port, "port to listen on (env: PUZZLEDUEL_PORT)")
	fs.StringVar(&c.PublicURL, "public-url", c.PublicURL, "base URL used in share links; derived from the request when empty (env: PUZZLEDUEL_PUBLIC_URL)")
	fs.BoolVarP(&c.Verbose, "verbose", "v", c.Verbose, "development logging (env: PUZZLEDUEL_VERBOSE)")

	fs.IntVar(&c.BoardSize, "board-size", c.BoardSize, "puzzle side length (env: PUZZLEDUEL_BOARD_SIZE)")
	fs.StringVar(&c.ImageTopic, "image-topic", c.ImageTopic, "search topic for puzzle images (env: PUZZLEDUEL_IMAGE_TOPIC)")
	fs.StringVar(&c.UnsplashKey, "unsplash-access-key", c.UnsplashKey, "Unsplash API access key; fallback image only when empty (env: PUZZLEDUEL_UNSPLASH_ACCESS_KEY)")
	fs.DurationVar(&c.ImageTimeout, "image-timeout", c.ImageTimeout, "time limit for an image lookup (env: PUZZLEDUEL_IMAGE_TIMEOUT)")
	fs.StringVar(&c.FallbackImageURL, "fallback-image-url", c.FallbackImageURL, "image used when lookup fails (env: PUZZLEDUEL_FALLBACK_IMAGE_URL)")

	fs.DurationVar(&c.RoomTTL, "room-ttl", c.RoomTTL, "time before idle rooms are closed, 0 to disable (env: PUZZLEDUEL_ROOM_TTL)")
	fs.StringVar(&c.DatabaseURL, "database-url", c.DatabaseURL, "postgres DSN for match results (env: PUZZLEDUEL_DATABASE_URL)")
	fs.BoolVar(&c.StrictMoves, "strict-moves", c.StrictMoves, "reject boards that are not one slide from the last (env: PUZZLEDUEL_STRICT_MOVES)")
	fs.StringSliceVar(&c.AllowedOrigins, "allowed-origins", c.AllowedOrigins, "websocket origin patterns to accept (env: PUZZLEDUEL_ALLOWED_ORIGINS)")
}

// ApplyEnv fills every flag the user did not set from the environment.
func ApplyEnv(fs *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		if err := fs.Set(f.Name, envValue(v.Get(f.Name))); err != nil {
			errs = append(errs, fmt.Errorf("%s_%s: %w", EnvPrefix, strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_")), err))
		}
	})
	return errors.Join(errs...)
}

func envValue(v any) string {
	if s, ok := v.([]string); ok {
		return strings.Join(s, ",")
	}
	return fmt.Sprintf("%v", v)
}
