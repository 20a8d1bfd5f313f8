package dispatch

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"gorm.io/datatypes"
)

// Auth descriptor types.
const (
	AuthTypeNone   = "none"
	AuthTypeAPIKey = "api_key"
	AuthTypeBearer = "bearer"
	AuthTypeBasic  = "basic"
	AuthTypeOAuth2 = "oauth2"
)

// defaultAPIKeyHeader is used when an api_key descriptor omits headerName.
const defaultAPIKeyHeader = "X-API-Key"

// AuthConfig is one credential descriptor attached to a provider or legacy
// registration. A nil IsActive counts as active.
type AuthConfig struct {
	Type        string `json:"type"`
	IsActive    *bool  `json:"isActive,omitempty"`
	APIKey      string `json:"apiKey,omitempty"`
	HeaderName  string `json:"headerName,omitempty"`
	HeaderValue string `json:"headerValue,omitempty"`
	Token       string `json:"token,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`

	// OAuth2 descriptor fields. Stored only, the token exchange itself is
	// not performed here.
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	TokenURL     string `json:"tokenUrl,omitempty"`
}

// Active reports whether the descriptor may be used for dispatch.
func (a AuthConfig) Active() bool {
	return a.IsActive == nil || *a.IsActive
}

// DecodeAuthConfigs parses a descriptor list column. Invalid JSON yields nil.
func DecodeAuthConfigs(raw datatypes.JSON) []AuthConfig {
	if len(raw) == 0 {
		return nil
	}
	var configs []AuthConfig
	if err := json.Unmarshal(raw, &configs); err != nil {
		return nil
	}
	return configs
}

// DecodeLegacyAuthConfig parses the legacy single-descriptor column pair.
// It returns nil when neither column carries anything usable.
func DecodeLegacyAuthConfig(authType string, raw datatypes.JSON) *AuthConfig {
	config := AuthConfig{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &config); err != nil {
			config = AuthConfig{}
		}
	}
	if config.Type == "" {
		config.Type = strings.TrimSpace(authType)
	}
	if config.Type == "" && config == (AuthConfig{}) {
		return nil
	}
	if config.Type == "" {
		config.Type = AuthTypeNone
	}
	return &config
}

// ResolveAuthConfigs applies the descriptor precedence rule: the list is
// authoritative when it holds at least one entry, otherwise the legacy
// single-descriptor pair is used.
func ResolveAuthConfigs(authType string, legacy, list datatypes.JSON) []AuthConfig {
	if configs := DecodeAuthConfigs(list); len(configs) > 0 {
		return configs
	}
	if config := DecodeLegacyAuthConfig(authType, legacy); config != nil {
		return []AuthConfig{*config}
	}
	return nil
}

// ResolveHeaders builds outbound headers honoring the provider's auth
// requirement flag. When requiresAuth is false only Content-Type is emitted.
func ResolveHeaders(requiresAuth bool, configs []AuthConfig) map[string]string {
	if !requiresAuth {
		return map[string]string{"Content-Type": "application/json"}
	}
	return BuildHeaders(configs)
}

// BuildHeaders resolves the request headers for the first active descriptor.
// Content-Type is always present; a descriptor carrying an explicit header
// pair is emitted verbatim.
func BuildHeaders(configs []AuthConfig) map[string]string {
	headers := map[string]string{"Content-Type": "application/json"}

	config := firstActive(configs)
	if config == nil {
		return headers
	}

	if config.HeaderName != "" && config.HeaderValue != "" {
		headers[config.HeaderName] = config.HeaderValue
		return headers
	}

	switch config.Type {
	case AuthTypeAPIKey:
		if config.APIKey != "" {
			name := config.HeaderName
			if name == "" {
				name = defaultAPIKeyHeader
			}
			headers[name] = config.APIKey
		}
	case AuthTypeBearer:
		if token := strings.TrimSpace(config.Token); token != "" {
			headers["Authorization"] = bearerValue(token)
		}
	case AuthTypeBasic:
		if config.Username != "" || config.Password != "" {
			credentials := base64.StdEncoding.EncodeToString([]byte(config.Username + ":" + config.Password))
			headers["Authorization"] = "Basic " + credentials
		}
	case AuthTypeOAuth2:
		token := strings.TrimSpace(config.AccessToken)
		if token == "" {
			token = strings.TrimSpace(config.Token)
		}
		if token != "" {
			headers["Authorization"] = bearerValue(token)
		}
	}
	return headers
}

// bearerValue prefixes a bare token with the Bearer scheme. Tokens that
// already embed a scheme are passed through unchanged.
func bearerValue(token string) string {
	if strings.Contains(token, " ") {
		return token
	}
	return "Bearer " + token
}

func firstActive(configs []AuthConfig) *AuthConfig {
	for i := range configs {
		if configs[i].Active() {
			return &configs[i]
		}
	}
	return nil
}
