package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthErrorKind discriminates authentication and authorization failures.
// The numeric value is the stable error_type code exposed on the wire.
type AuthErrorKind int

const (
	AuthAccountNotFound         AuthErrorKind = 0
	AuthAccountNotActive        AuthErrorKind = 1
	AuthTokenExpired            AuthErrorKind = 2
	AuthGroupAccountNotActive   AuthErrorKind = 3
	AuthAdminPermissionNeeded   AuthErrorKind = 4
	AuthIncorrectPassword       AuthErrorKind = 5
	AuthUnauthorizedRole        AuthErrorKind = 6
	AuthIncorrectSMSCode        AuthErrorKind = 7
	AuthSMSCodeExpired          AuthErrorKind = 8
	AuthIncorrectToken          AuthErrorKind = 9
	AuthTokenError              AuthErrorKind = 10
	AuthAccessDenied            AuthErrorKind = 11
	AuthTokenNotFound           AuthErrorKind = 12
	AuthDeactivatedToken        AuthErrorKind = 13
	AuthMultipleAccounts        AuthErrorKind = 14
	AuthDuplicateIdentifier     AuthErrorKind = 15
	AuthMethodNotDirectCallable AuthErrorKind = 16
)

var authErrorNames = map[AuthErrorKind]string{
	AuthAccountNotFound:         "ACCOUNT_NOT_FOUND",
	AuthAccountNotActive:        "ACCOUNT_NOT_ACTIVE",
	AuthTokenExpired:            "TOKEN_EXPIRED",
	AuthGroupAccountNotActive:   "GROUP_ACCOUNT_NOT_ACTIVE",
	AuthAdminPermissionNeeded:   "ADMIN_PERMISSION_NEEDED",
	AuthIncorrectPassword:       "INCORRECT_PASSWORD",
	AuthUnauthorizedRole:        "UNAUTHORIZED_ROLE",
	AuthIncorrectSMSCode:        "INCORRECT_SMS_CODE",
	AuthSMSCodeExpired:          "SMS_CODE_EXPIRED",
	AuthIncorrectToken:          "INCORRECT_TOKEN",
	AuthTokenError:              "TOKEN_ERROR",
	AuthAccessDenied:            "ACCESS_DENIED",
	AuthTokenNotFound:           "TOKEN_NOT_FOUND",
	AuthDeactivatedToken:        "DEACTIVATED_TOKEN",
	AuthMultipleAccounts:        "MULTIPLE_CONNECTED_ACCOUNTS",
	AuthDuplicateIdentifier:     "DUPLICATE_AUTHENTICATION_IDENTIFIER",
	AuthMethodNotDirectCallable: "METHOD_NOT_DIRECT_CALLABLE",
}

var authErrorMessages = map[AuthErrorKind]Translatable{
	AuthAccountNotFound:         {EN: "Account not found", FA: "حساب کاربری پیدا نشد"},
	AuthAccountNotActive:        {EN: "Account is not active", FA: "حساب کاربری فعال نیست"},
	AuthTokenExpired:            {EN: "Token has expired, sign in again", FA: "توکن منقضی شده است، دوباره وارد شوید"},
	AuthGroupAccountNotActive:   {EN: "Membership in this group is not active", FA: "عضویت در این گروه فعال نیست"},
	AuthAdminPermissionNeeded:   {EN: "Admin permission needed", FA: "دسترسی مدیریتی لازم است"},
	AuthIncorrectPassword:       {EN: "Incorrect password", FA: "گذرواژه اشتباه است"},
	AuthUnauthorizedRole:        {EN: "Role not authorized for this call", FA: "نقش شما مجاز به این فراخوانی نیست"},
	AuthIncorrectSMSCode:        {EN: "Incorrect code", FA: "کد اشتباه است"},
	AuthSMSCodeExpired:          {EN: "Code has expired, request a new one", FA: "کد منقضی شده است، کد جدیدی درخواست کنید"},
	AuthIncorrectToken:          {EN: "Token could not be parsed", FA: "توکن قابل خواندن نیست"},
	AuthTokenError:              {EN: "Token integrity check failed", FA: "بررسی صحت توکن ناموفق بود"},
	AuthAccessDenied:            {EN: "Access denied", FA: "دسترسی غیرمجاز"},
	AuthTokenNotFound:           {EN: "No token supplied", FA: "توکنی ارسال نشده است"},
	AuthDeactivatedToken:        {EN: "Token has been deactivated", FA: "توکن غیرفعال شده است"},
	AuthMultipleAccounts:        {EN: "Multiple connected accounts, specify the group", FA: "چند حساب متصل وجود دارد، گروه را مشخص کنید"},
	AuthDuplicateIdentifier:     {EN: "An account with this identifier already exists", FA: "حسابی با این شناسه از قبل وجود دارد"},
	AuthMethodNotDirectCallable: {EN: "Method is not directly callable", FA: "این متد قابل فراخوانی مستقیم نیست"},
}

// AuthError is the taxonomy for authentication and authorization failures.
type AuthError struct {
	Kind AuthErrorKind
}

// NewAuthError builds an AuthError of the given kind.
func NewAuthError(kind AuthErrorKind) *AuthError {
	return &AuthError{Kind: kind}
}

func (e *AuthError) Error() string {
	if name, ok := authErrorNames[e.Kind]; ok {
		return fmt.Sprintf("auth: %s", name)
	}
	return fmt.Sprintf("auth: error_type %d", int(e.Kind))
}

// Name returns the stable machine-readable discriminator.
func (e *AuthError) Name() string {
	return authErrorNames[e.Kind]
}

// Message returns the localized user-facing message.
func (e *AuthError) Message() Translatable {
	if msg, ok := authErrorMessages[e.Kind]; ok {
		return msg
	}
	return MsgInternalError
}

// Status maps the kind to its HTTP status code. Token integrity failures are the
// single 424; everything else in the taxonomy is a 403.
func (e *AuthError) Status() int {
	if e.Kind == AuthTokenError {
		return http.StatusFailedDependency
	}
	return http.StatusForbidden
}

// Is lets errors.Is match on the kind.
func (e *AuthError) Is(target error) bool {
	var other *AuthError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// ValidationError reports a per-field input failure. Always surfaces as 417 with
// error_in_field set to the offending field name.
type ValidationError struct {
	Field   string
	Message Translatable
}

// NewValidationError builds a ValidationError for the named field.
func NewValidationError(field string, msg Translatable) *ValidationError {
	if msg.EN == "" {
		msg = MsgFieldNotValid
	}
	return &ValidationError{Field: field, Message: msg}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: field %q: %s", e.Field, e.Message.EN)
}

// MessageError is a business-policy failure with a caller-visible message and an
// explicit status code (default 400).
type MessageError struct {
	Message    Translatable
	StatusCode int
}

// NewMessageError builds a MessageError; a non-positive status defaults to 400.
func NewMessageError(msg Translatable, status int) *MessageError {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	return &MessageError{Message: msg, StatusCode: status}
}

func (e *MessageError) Error() string {
	return fmt.Sprintf("message: %s (status %d)", e.Message.EN, e.StatusCode)
}

// StatusSwallowed is the reserved sentinel meaning the core intentionally
// swallowed the exception. The envelope middleware rewrites it to 500.
const StatusSwallowed = 567
