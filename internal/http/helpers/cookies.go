package helpers

import (
	"net/http"
	"time"
)

// SetSessionCookie guarda el token de sesión en una cookie HttpOnly.
func SetSessionCookie(w http.ResponseWriter, name, value, path string, secure bool, expires *time.Time) {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	if expires != nil {
		c.Expires = *expires
	}
	http.SetCookie(w, c)
}

// ClearCookie borra la cookie de sesión.
func ClearCookie(w http.ResponseWriter, name, path string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}
