package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/rx-portal/pkg/httputil"
)

const (
	HeaderAPIVersion    = "X-API-Version"
	HeaderAcceptVersion = "Accept-Version"
)

// VersionConfig represents version middleware configuration
type VersionConfig struct {
	Current   string
	Supported []string
}

func DefaultVersionConfig() VersionConfig {
	return VersionConfig{
		Current:   "1.0",
		Supported: []string{"1.0"},
	}
}

// Version stamps responses with the served API version. A client asking for
// an unsupported version through Accept-Version gets 406.
func Version(config VersionConfig) gin.HandlerFunc {
	supported := make(map[string]struct{}, len(config.Supported))
	for _, v := range config.Supported {
		supported[v] = struct{}{}
	}

	return func(c *gin.Context) {
		c.Header(HeaderAPIVersion, config.Current)

		if requested := c.GetHeader(HeaderAcceptVersion); requested != "" {
			if _, ok := supported[requested]; !ok {
				httputil.RespondWithStatus(c, http.StatusNotAcceptable,
					fmt.Sprintf("API version %s not supported", requested))
				return
			}
		}
		c.Next()
	}
}
