package authflow

import (
	"fmt"

	"github.com/nimbusid/authapi/internal/auth"
)

// Messages are the client-facing texts for one principal kind.
type Messages struct {
	Register           string
	RegisterFailed     string
	Login              string
	LoginFailed        string
	InvalidCredentials string
	AccountInactive    string
	Me                 string
	Logout             string
	LogoutFailed       string
	Refresh            string
	RefreshFailed      string
}

type notice struct {
	subject string
	body    string
	sms     string
}

// kindProfile is what differs between users and admins.
type kindProfile struct {
	register bool
	profiles bool
	messages Messages
	welcome  notice
	login    notice
}

var shared = Messages{
	Register:           "Registration successful",
	RegisterFailed:     "Registration failed",
	Login:              "Login successful",
	LoginFailed:        "Login failed",
	InvalidCredentials: "Invalid email or password",
	AccountInactive:    "Account is not active",
	Me:                 "User profile retrieved",
	Logout:             "Successfully logged out",
	LogoutFailed:       "Logout failed",
	Refresh:            "Token refreshed successfully",
	RefreshFailed:      "Token refresh failed",
}

func profileFor(kind auth.Kind) (kindProfile, error) {
	switch kind {
	case auth.KindUser:
		return kindProfile{
			register: true,
			profiles: true,
			messages: shared,
			welcome:  notice{subject: "Welcome!", body: "Your account has been created.", sms: "Welcome to our platform!"},
			login:    notice{subject: "Login Alert", body: "You logged in successfully.", sms: "Login successful."},
		}, nil
	case auth.KindAdmin:
		m := shared
		m.Login = "Admin login successful"
		m.LoginFailed = "Admin login failed"
		m.Me = "Admin profile retrieved"
		return kindProfile{
			messages: m,
			login:    notice{subject: "Admin Login Alert", body: "You have logged in to the admin panel.", sms: "Admin login successful."},
		}, nil
	default:
		return kindProfile{}, fmt.Errorf("authflow: unknown principal kind %q", kind)
	}
}
