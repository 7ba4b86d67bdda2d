package builtin

import (
	"kory/internal/tools"
)

// Config carries the settings builtin tools need at registration time.
type Config struct {
	TavilyAPIKey     string
	MaxFileSizeBytes int64
}

// RegisterAll installs every built-in tool into the registry.
func RegisterAll(registry *tools.Registry, cfg Config) error {
	all := []tools.Executor{
		NewShell(),
		NewFileRead(cfg.MaxFileSizeBytes),
		NewFileWrite(),
		NewFileEdit(),
		NewFileDelete(),
		NewFileMove(),
		NewPatch(),
		NewGlob(),
		NewGrep(),
		NewListDir(),
		NewWebFetch(),
		NewWebSearch(cfg.TavilyAPIKey),
		NewAskUser(),
		NewAskManager(),
	}
	for _, tool := range all {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
