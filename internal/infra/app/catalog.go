package app

import (
	"context"
	"net/http"
	"time"

	"github.com/Afshari9978/avishan/internal/core/domain"
	"github.com/Afshari9978/avishan/internal/descriptor"
	"github.com/Afshari9978/avishan/internal/envelope"
	"github.com/Afshari9978/avishan/internal/usecase"
)

// Image is stored reference data for uploaded pictures.
type Image struct {
	ID          int64     `model:"id"`
	URL         string    `model:"url"`
	Width       *int      `model:"width"`
	Height      *int      `model:"height"`
	DateCreated time.Time `model:"date_created"`
}

// File is stored reference data for uploaded documents.
type File struct {
	ID          int64     `model:"id"`
	URL         string    `model:"url"`
	Size        *int64    `model:"size,desc=size in bytes"`
	DateCreated time.Time `model:"date_created"`
}

// Country is reference data exercising the full CRUD surface, including an
// embedded OBJECT attribute.
type Country struct {
	ID          int64     `model:"id"`
	Name        string    `model:"name"`
	Code        string    `model:"code,desc=ISO 3166-1 alpha-2 code"`
	Flag        *Image    `model:"flag"`
	DateCreated time.Time `model:"date_created"`
}

// catalogServices are the auth services the built-in callables close over.
type catalogServices struct {
	sessions *usecase.SessionService
	keyValue *usecase.KeyValueService
	otp      *usecase.OtpService
	visitor  *usecase.VisitorService
	register *usecase.RegisterService
}

// buildCatalog registers the runtime's own entities: the auth surface on User
// plus the reference-data entities served by the generic store.
func buildCatalog(svc catalogServices) (*descriptor.Project, error) {
	registry := descriptor.NewRegistry()

	kindArg := descriptor.AttributeDescriptor{
		Name: "kind", Type: descriptor.TypeString, Required: true,
		Choices: []string{string(domain.IdentifierPhone), string(domain.IdentifierEmail)},
	}
	keyArg := descriptor.AttributeDescriptor{Name: "key", Type: descriptor.TypeString, Required: true}
	groupArg := descriptor.AttributeDescriptor{Name: "user_group", Type: descriptor.TypeString}

	registry.Register(descriptor.Definition{
		Target: domain.User{},
		Name:   "User",
		Plural: "users",
		Attributes: []descriptor.AttributeDescriptor{
			{Name: "id", Type: descriptor.TypeInt},
			{Name: "is_active", Type: descriptor.TypeBoolean},
			{Name: "language", Type: descriptor.TypeString, Choices: []string{string(domain.LanguageEN), string(domain.LanguageFA)}},
			{Name: "date_created", Type: descriptor.TypeDateTime},
		},
		Callables: []*descriptor.CallableDescriptor{
			// Users read through the generic store like every other entity;
			// writes stay behind the auth callables below.
			{Name: "all", Static: true, Verb: descriptor.VerbGet, Conventional: true, Authenticate: true, ResponseKey: "users"},
			{Name: "get", Verb: descriptor.VerbGet, Conventional: true, Authenticate: true},
			{
				Name: "login", Static: true, Verb: descriptor.VerbPost,
				Args: []descriptor.AttributeDescriptor{
					kindArg, keyArg, groupArg,
					{Name: "password", Type: descriptor.TypeString, Required: true},
				},
				DismissResponseKey: true,
				Description:        "Sign in with an identifier and password.",
				Handler:            svc.login,
			},
			{
				Name: "register", Static: true, Verb: descriptor.VerbPost,
				Args: []descriptor.AttributeDescriptor{
					kindArg, keyArg,
					{Name: "strategy", Type: descriptor.TypeString, Required: true,
						Choices: []string{string(domain.MethodKeyValue), string(domain.MethodOtp)}},
					{Name: "password", Type: descriptor.TypeString},
					{Name: "user_group", Type: descriptor.TypeString, Required: true},
					{Name: "language", Type: descriptor.TypeString},
				},
				DismissResponseKey: true,
				Description:        "Open an account under one strategy in one group.",
				Handler:            svc.registerAccount,
			},
			{
				Name: "challenge", Static: true, Verb: descriptor.VerbPost,
				Args:               []descriptor.AttributeDescriptor{kindArg, keyArg, groupArg},
				DismissResponseKey: true,
				Description:        "Send a one-time code to the identifier.",
				Handler:            svc.challenge,
			},
			{
				Name: "verify", Static: true, Verb: descriptor.VerbPost,
				Args: []descriptor.AttributeDescriptor{
					kindArg, keyArg, groupArg,
					{Name: "code", Type: descriptor.TypeString, Required: true},
				},
				DismissResponseKey: true,
				Description:        "Verify a one-time code and sign in.",
				Handler:            svc.verify,
			},
			{
				Name: "visit", Static: true, Verb: descriptor.VerbPost,
				Args: []descriptor.AttributeDescriptor{
					{Name: "user_group", Type: descriptor.TypeString, Required: true},
				},
				DismissResponseKey: true,
				Description:        "Open an anonymous visitor session in a base group.",
				Handler:            svc.visit,
			},
			{
				Name: "visitor_login", Static: true, Verb: descriptor.VerbPost,
				Args:               []descriptor.AttributeDescriptor{keyArg},
				DismissResponseKey: true,
				Description:        "Resume a visitor session with its key.",
				Handler:            svc.visitorLogin,
			},
			{
				Name: "logout", Static: true, Verb: descriptor.VerbPost,
				Authenticate:       true,
				DismissResponseKey: true,
				Handler:            svc.logout,
			},
			{
				Name: "change_password", Static: true, Verb: descriptor.VerbPost,
				Authenticate: true,
				Args: []descriptor.AttributeDescriptor{
					{Name: "current_password", Type: descriptor.TypeString, Required: true},
					{Name: "new_password", Type: descriptor.TypeString, Required: true},
				},
				DismissResponseKey: true,
				Handler:            svc.changePassword,
			},
		},
		Description: "Identity principal and the authentication surface.",
	})

	registry.Register(descriptor.Definition{
		Target: domain.UserGroup{},
		Name:   "UserGroup",
		Attributes: []descriptor.AttributeDescriptor{
			{Name: "id", Type: descriptor.TypeInt},
			{Name: "title", Type: descriptor.TypeString},
			{Name: "token_valid_seconds", Type: descriptor.TypeInt},
			{Name: "is_base_group", Type: descriptor.TypeBoolean},
		},
		Description: "Named role; token lifetime is a property of the group.",
	})

	// Embedded uploads always carry their address, not just the row id.
	registry.Register(descriptor.Definition{Target: Image{}, Storable: true, CompactFields: []string{"url"}})
	registry.Register(descriptor.Definition{Target: File{}, Storable: true, CompactFields: []string{"url"}})
	registry.Register(descriptor.Definition{Target: Country{}, Storable: true})

	return registry.Build()
}

func argString(args map[string]any, name string) string {
	if v, ok := args[name].(string); ok {
		return v
	}
	return ""
}

func identifierKindArg(args map[string]any) (domain.IdentifierKind, error) {
	kind, ok := domain.ParseIdentifierKind(argString(args, "kind"))
	if !ok {
		return "", domain.NewValidationError("kind", domain.MsgFieldNotValid)
	}
	return kind, nil
}

// bindLogin attaches the freshly minted session to the envelope so the
// response carries the token.
func bindLogin(env *envelope.Envelope, account *usecase.Account, token string) {
	env.BindSession(account.Method, account.Membership, account.User, account.Group)
	env.Token = token
}

func accountPayload(account *usecase.Account) map[string]any {
	return map[string]any{
		"user": map[string]any{
			"id":        account.User.ID,
			"is_active": account.User.IsActive,
			"language":  string(account.User.Language),
		},
		"user_group": map[string]any{
			"id":    account.Group.ID,
			"title": account.Group.Title,
		},
	}
}

func (s catalogServices) login(ctx context.Context, call *descriptor.CallContext) (any, error) {
	kind, err := identifierKindArg(call.Args)
	if err != nil {
		return nil, err
	}
	account, token, err := s.keyValue.Login(ctx, kind,
		argString(call.Args, "key"), argString(call.Args, "password"), argString(call.Args, "user_group"))
	if err != nil {
		return nil, err
	}
	bindLogin(call.Env, account, token)
	return accountPayload(account), nil
}

func (s catalogServices) registerAccount(ctx context.Context, call *descriptor.CallContext) (any, error) {
	kind, err := identifierKindArg(call.Args)
	if err != nil {
		return nil, err
	}
	strategy, ok := domain.ParseMethodKind(argString(call.Args, "strategy"))
	if !ok {
		return nil, domain.NewValidationError("strategy", domain.MsgFieldNotValid)
	}

	account, err := s.register.Register(ctx, usecase.RegisterParams{
		Strategy:       strategy,
		IdentifierKind: kind,
		Key:            argString(call.Args, "key"),
		Password:       argString(call.Args, "password"),
		GroupTitle:     argString(call.Args, "user_group"),
		Language:       domain.ParseLanguage(argString(call.Args, "language"), call.Env.Language),
	})
	if err != nil {
		return nil, err
	}

	call.Env.StatusCode = http.StatusCreated
	return accountPayload(account), nil
}

func (s catalogServices) challenge(ctx context.Context, call *descriptor.CallContext) (any, error) {
	kind, err := identifierKindArg(call.Args)
	if err != nil {
		return nil, err
	}
	if err := s.otp.StartChallenge(ctx, kind, argString(call.Args, "key"), argString(call.Args, "user_group")); err != nil {
		return nil, err
	}
	return map[string]any{"challenge_sent": true}, nil
}

func (s catalogServices) verify(ctx context.Context, call *descriptor.CallContext) (any, error) {
	kind, err := identifierKindArg(call.Args)
	if err != nil {
		return nil, err
	}
	account, token, firstLogin, err := s.otp.Verify(ctx, kind,
		argString(call.Args, "key"), argString(call.Args, "code"), argString(call.Args, "user_group"))
	if err != nil {
		return nil, err
	}
	bindLogin(call.Env, account, token)
	if firstLogin {
		call.Env.StatusCode = http.StatusCreated
	}
	return accountPayload(account), nil
}

func (s catalogServices) visit(ctx context.Context, call *descriptor.CallContext) (any, error) {
	account, key, token, err := s.visitor.Visit(ctx, argString(call.Args, "user_group"), call.Env.Language)
	if err != nil {
		return nil, err
	}
	bindLogin(call.Env, account, token)
	call.Env.StatusCode = http.StatusCreated

	payload := accountPayload(account)
	payload["visitor_key"] = key
	return payload, nil
}

func (s catalogServices) visitorLogin(ctx context.Context, call *descriptor.CallContext) (any, error) {
	account, token, err := s.visitor.Login(ctx, argString(call.Args, "key"))
	if err != nil {
		return nil, err
	}
	bindLogin(call.Env, account, token)
	return accountPayload(account), nil
}

func (s catalogServices) logout(ctx context.Context, call *descriptor.CallContext) (any, error) {
	if err := s.sessions.Logout(ctx, call.Env.AuthenticationObject); err != nil {
		return nil, err
	}
	// The dead token must not be re-issued on the way out.
	call.Env.AddToken = false
	call.Env.Token = ""
	return map[string]any{"logged_out": true}, nil
}

func (s catalogServices) changePassword(ctx context.Context, call *descriptor.CallContext) (any, error) {
	err := s.keyValue.ChangePassword(ctx, call.Env.AuthenticationObject,
		argString(call.Args, "current_password"), argString(call.Args, "new_password"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"password_changed": true}, nil
}
