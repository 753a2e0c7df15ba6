package config

import "fmt"

// AuthSpec configures one of the Auth Provider variants (spec §4.B).
type AuthSpec struct {
	Type string `yaml:"type" json:"type"` // "none" | "bearer" | "apikey" | "basic" | "oauth2" | "google_service_account" | "login_cookie"

	// Bearer / ApiKey
	TokenEnv    string `yaml:"tokenEnv,omitempty" json:"tokenEnv,omitempty"`
	TokenFile   string `yaml:"tokenFile,omitempty" json:"tokenFile,omitempty"`
	HeaderName  string `yaml:"headerName,omitempty" json:"headerName,omitempty"`
	Prefix      string `yaml:"prefix,omitempty" json:"prefix,omitempty"`

	// Basic
	Username    string `yaml:"username,omitempty" json:"username,omitempty"`
	PasswordEnv string `yaml:"passwordEnv,omitempty" json:"passwordEnv,omitempty"`

	// OAuth2
	TokenURL          string   `yaml:"tokenUrl,omitempty" json:"tokenUrl,omitempty"`
	ClientID          string   `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	ClientSecretEnv   string   `yaml:"clientSecretEnv,omitempty" json:"clientSecretEnv,omitempty"`
	ClientPrivateKeyF string   `yaml:"clientPrivateKeyFile,omitempty" json:"clientPrivateKeyFile,omitempty"`
	RefreshToken      string   `yaml:"refreshToken,omitempty" json:"refreshToken,omitempty"`
	Scope             []string `yaml:"scope,omitempty" json:"scope,omitempty"`
	DPoP              bool     `yaml:"dpop,omitempty" json:"dpop,omitempty"`

	// Google Service Account
	CredentialsFile string   `yaml:"credentialsFile,omitempty" json:"credentialsFile,omitempty"`
	Subject         string   `yaml:"subject,omitempty" json:"subject,omitempty"`
	Scopes          []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`

	// Login-for-cookie
	LoginURL         string `yaml:"loginUrl,omitempty" json:"loginUrl,omitempty"`
	LoginBodyEnv     string `yaml:"loginBodyEnv,omitempty" json:"loginBodyEnv,omitempty"`
	LoginBodyFile    string `yaml:"loginBodyFile,omitempty" json:"loginBodyFile,omitempty"`
}

func (a *AuthSpec) Validate() error {
	switch a.Type {
	case "", "none":
		return nil
	case "bearer":
		if a.TokenEnv == "" && a.TokenFile == "" {
			return fmt.Errorf("bearer auth requires tokenEnv or tokenFile")
		}
	case "apikey":
		if a.HeaderName == "" {
			return fmt.Errorf("apikey auth requires headerName")
		}
		if a.TokenEnv == "" && a.TokenFile == "" {
			return fmt.Errorf("apikey auth requires tokenEnv or tokenFile")
		}
	case "basic":
		if a.Username == "" {
			return fmt.Errorf("basic auth requires username")
		}
	case "oauth2":
		if a.TokenURL == "" {
			return fmt.Errorf("oauth2 auth requires tokenUrl")
		}
		if a.ClientID == "" {
			return fmt.Errorf("oauth2 auth requires clientId")
		}
		if a.ClientSecretEnv == "" && a.ClientPrivateKeyF == "" {
			return fmt.Errorf("oauth2 auth requires clientSecret or clientPrivateKey")
		}
	case "google_service_account":
		if a.CredentialsFile == "" {
			return fmt.Errorf("google_service_account auth requires credentialsFile")
		}
		if len(a.Scopes) == 0 {
			return fmt.Errorf("google_service_account auth requires at least one scope")
		}
	case "login_cookie":
		if a.LoginURL == "" {
			return fmt.Errorf("login_cookie auth requires loginUrl")
		}
	default:
		return fmt.Errorf("unknown auth type %q", a.Type)
	}
	return nil
}
