package gate

import (
	"embed"
)

var (
	//go:embed pages/index.html
	pageLanding []byte
	//go:embed pages/403.html
	pageForbidden []byte
	//go:embed pages/500.html
	pageInternalError []byte
	//go:embed pages/502.html
	pageBadGateway []byte

	//go:embed static
	staticFS embed.FS
)
