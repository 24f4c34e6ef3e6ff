package profile

import (
	"net/http/pprof"

	"github.com/gin-gonic/gin"
)

const PathPrefix = "/debug/pprof"

// Mount serves the runtime profiles under PathPrefix.
func Mount(r gin.IRoutes) {
	r.GET(PathPrefix+"/", gin.WrapF(pprof.Index))
	r.GET(PathPrefix+"/cmdline", gin.WrapF(pprof.Cmdline))
	r.GET(PathPrefix+"/profile", gin.WrapF(pprof.Profile))
	r.GET(PathPrefix+"/symbol", gin.WrapF(pprof.Symbol))
	r.POST(PathPrefix+"/symbol", gin.WrapF(pprof.Symbol))
	r.GET(PathPrefix+"/trace", gin.WrapF(pprof.Trace))

	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		r.GET(PathPrefix+"/"+name, gin.WrapH(pprof.Handler(name)))
	}
}
