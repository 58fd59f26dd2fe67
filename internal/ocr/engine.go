package ocr

import "fmt"

// EngineConfig selects and configures a text extraction engine
type EngineConfig struct {
	Engine        string // tesseract or remote
	LanguageHint  string
	MinConfidence float64
	RemoteURL     string
}

// New returns the extractor named by cfg.Engine
func New(cfg EngineConfig) (Extractor, error) {
	switch cfg.Engine {
	case "", "tesseract":
		return NewTesseractExtractor(&TesseractConfig{
			LanguageHint:  cfg.LanguageHint,
			MinConfidence: cfg.MinConfidence,
		}), nil
	case "remote":
		if cfg.RemoteURL == "" {
			return nil, fmt.Errorf("remote OCR engine requires a base URL")
		}
		return NewRemoteExtractor(cfg.RemoteURL, cfg.LanguageHint), nil
	default:
		return nil, fmt.Errorf("unknown OCR engine %q", cfg.Engine)
	}
}
