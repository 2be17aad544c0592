package controller

// Language is one entry of the fixed locale catalog.
type Language struct {
	Tag   string `json:"tag"`
	Label string `json:"label"`
}

var languages = []Language{
	{Tag: "en-US", Label: "English (United States)"},
	{Tag: "en-GB", Label: "English (United Kingdom)"},
	{Tag: "en-AU", Label: "English (Australia)"},
	{Tag: "es-ES", Label: "Spanish (Spain)"},
	{Tag: "es-MX", Label: "Spanish (Mexico)"},
	{Tag: "fr-FR", Label: "French (France)"},
	{Tag: "de-DE", Label: "German (Germany)"},
	{Tag: "it-IT", Label: "Italian (Italy)"},
	{Tag: "pt-BR", Label: "Portuguese (Brazil)"},
	{Tag: "nl-NL", Label: "Dutch (Netherlands)"},
	{Tag: "ja-JP", Label: "Japanese (Japan)"},
	{Tag: "ko-KR", Label: "Korean (Korea)"},
	{Tag: "zh-CN", Label: "Chinese (Mainland China)"},
	{Tag: "hi-IN", Label: "Hindi (India)"},
	{Tag: "ar-SA", Label: "Arabic (Saudi Arabia)"},
	{Tag: "ru-RU", Label: "Russian (Russia)"},
}

// ListLanguages returns the supported language tags. The list is static and
// is not queried from the platform.
func (c *Controller) ListLanguages() []Language {
	return append([]Language(nil), languages...)
}
