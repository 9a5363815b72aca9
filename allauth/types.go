package allauth

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Response is the envelope shared by every allauth endpoint. Status always
// holds the HTTP status of the exchange.
type Response struct {
	Status int           `json:"status"`
	Errors []ErrorDetail `json:"errors,omitempty"`
	Data   Data          `json:"data"`
	Meta   Meta          `json:"meta"`
}

type Data struct {
	User    *User         `json:"user,omitempty"`
	Methods []Method      `json:"methods,omitempty"`
	Errors  []ErrorDetail `json:"errors,omitempty"`
	Flows   []Flow        `json:"flows,omitempty"`
}

type Meta struct {
	IsAuthenticated bool   `json:"is_authenticated"`
	AccessToken     string `json:"access_token,omitempty"`
	RefreshToken    string `json:"refresh_token,omitempty"`
	SessionToken    string `json:"session_token,omitempty"`
	EmailVerified   *bool  `json:"email_verified,omitempty"`
}

// ErrorDetail is one entry of an errors array. Param names the offending
// form field for validation failures.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

type Flow struct {
	ID        string `json:"id"`
	IsPending bool   `json:"is_pending,omitempty"`
}

type Method struct {
	Method string `json:"method"`
	Email  string `json:"email"`
}

// User is the account representation returned by allauth.
type User struct {
	ID                  UserID `json:"id"`
	Display             string `json:"display,omitempty"`
	Email               string `json:"email"`
	Username            string `json:"username,omitempty"`
	HasUsablePassword   bool   `json:"has_usable_password,omitempty"`
	EmailVerified       bool   `json:"email_verified"`
	OnboardingCompleted bool   `json:"onboarding_completed"`
}

// UserID accepts both numeric and string ids on the wire.
type UserID string

func (id *UserID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = UserID(n.String())
	return nil
}

func (id UserID) String() string {
	return string(id)
}

// Int returns the numeric form of the id when it has one.
func (id UserID) Int() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

// Provider is a social provider advertised by the config endpoint.
type Provider struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	ClientID string   `json:"client_id,omitempty"`
	Flows    []string `json:"flows"`
}

type Config struct {
	Status int `json:"status"`
	Data   struct {
		SocialAccount struct {
			Providers []Provider `json:"providers"`
		} `json:"socialaccount"`
	} `json:"data"`
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Registration struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Password2 string `json:"password2"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type PasswordChange struct {
	CurrentPassword string `json:"current_password,omitempty"`
	NewPassword     string `json:"new_password"`
}

type PasswordReset struct {
	Key      string `json:"key"`
	Password string `json:"password"`
}

type socialLoginRequest struct {
	Provider    string `json:"provider"`
	AccessToken string `json:"access_token,omitempty"`
	IDToken     string `json:"id_token,omitempty"`
}

// AllErrors returns the top-level errors followed by data.errors.
func (r *Response) AllErrors() []ErrorDetail {
	if r == nil {
		return nil
	}
	out := make([]ErrorDetail, 0, len(r.Errors)+len(r.Data.Errors))
	out = append(out, r.Errors...)
	return append(out, r.Data.Errors...)
}

// HasErrorCode reports whether any error entry carries code.
func (r *Response) HasErrorCode(code string) bool {
	for _, e := range r.AllErrors() {
		if e.Code == code {
			return true
		}
	}
	return false
}
