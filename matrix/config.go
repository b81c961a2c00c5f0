package matrix

import (
	"time"

	"github.com/spf13/viper"
)

// Default path prefix and timings, per spec.md §6.
const (
	defaultPathPrefix      = "/_matrix/client/api/v1"
	defaultPollSeconds     = 30
	defaultBackoffSeconds  = 3
	defaultPaginationLimit = 20
)

// Config carries the tunables the core reads out of a *viper.Viper the
// caller has already populated, mirroring bridge/matrix.New(v
// *viper.Viper, ...)'s contract: the core never loads a config file
// itself, it only consumes one that's already in memory.
type Config struct {
	Debug bool
	Trace bool

	// PathPrefix is prepended to every request path, e.g.
	// "/_matrix/client/api/v1".
	PathPrefix string

	// PollTimeout bounds each long-poll GET /events request.
	PollTimeout time.Duration

	// Backoff is the fixed delay between retries after a transient
	// transport failure in the pump (spec.md §7 policy).
	Backoff time.Duration

	// PaginationLimit is the default page size for Room.Paginate when
	// the caller passes 0.
	PaginationLimit int
}

// NewConfig builds a Config from a *viper.Viper, first registering a
// default for every "matrix.*" key below so a key the caller never set
// reads as that default.
func NewConfig(v *viper.Viper) *Config {
	v.SetDefault("matrix.pathprefix", defaultPathPrefix)
	v.SetDefault("matrix.pollseconds", defaultPollSeconds)
	v.SetDefault("matrix.backoffseconds", defaultBackoffSeconds)
	v.SetDefault("matrix.paginationlimit", defaultPaginationLimit)

	return &Config{
		Debug:           v.GetBool("matrix.debug"),
		Trace:           v.GetBool("matrix.trace"),
		PathPrefix:      v.GetString("matrix.pathprefix"),
		PollTimeout:     time.Duration(v.GetInt("matrix.pollseconds")) * time.Second,
		Backoff:         time.Duration(v.GetInt("matrix.backoffseconds")) * time.Second,
		PaginationLimit: v.GetInt("matrix.paginationlimit"),
	}
}
