package model

import "time"

// Language identifies the interpreter a script runs under
type Language string

const (
	LanguagePython     Language = "python"
	LanguageNode       Language = "node"
	LanguageJavaScript Language = "javascript"
	LanguageShell      Language = "shell"
	LanguageBash       Language = "bash"
	LanguagePowerShell Language = "powershell"
	LanguageBatch      Language = "batch"
	LanguageCmd        Language = "cmd"
)

// Script is a stored, language-tagged executable payload with default parameters
type Script struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Language      Language `json:"language"`
	FilePath      string   `json:"file_path"`
	DefaultParams Params   `json:"default_params,omitempty"`
	Group         string   `json:"group,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileExtensions maps languages to script file extensions
var FileExtensions = map[Language]string{
	LanguagePowerShell: ".ps1",
	LanguageBatch:      ".bat",
	LanguageCmd:        ".bat",
	LanguagePython:     ".py",
	LanguageJavaScript: ".js",
	LanguageNode:       ".js",
	LanguageShell:      ".sh",
	LanguageBash:       ".sh",
}

// IsSupportedLanguage reports whether lang has a known interpreter mapping
func IsSupportedLanguage(lang Language) bool {
	_, ok := FileExtensions[lang]
	return ok
}
