package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/mnemoforge/authcore/internal"
	"github.com/mnemoforge/authcore/oauth"
	"go.uber.org/zap"
)

// OAuthAuthorizationURL starts a provider login. The returned state must
// be kept by the caller (a short-lived cookie) and compared on callback.
func (e *Engine) OAuthAuthorizationURL(provider string) (authURL, state string, err error) {
	if !e.oauth.Enabled(provider) {
		return "", "", ErrOAuthProviderUnknown
	}
	state, err = internal.NewOAuthState()
	if err != nil {
		return "", "", err
	}
	authURL, err = e.oauth.AuthCodeURL(provider, state)
	if err != nil {
		return "", "", ErrOAuthProviderUnknown
	}
	return authURL, state, nil
}

// CompleteOAuthLogin exchanges the callback code with provider and
// reconciles the returned attributes with a local identity.
func (e *Engine) CompleteOAuthLogin(ctx context.Context, provider, code string) (*LoginResult, error) {
	if !e.oauth.Enabled(provider) {
		e.oauthFailed(ctx, provider, "", ErrOAuthProviderUnknown)
		return nil, ErrOAuthProviderUnknown
	}

	attrs, err := e.oauth.Exchange(ctx, provider, code)
	if err != nil {
		if errors.Is(err, oauth.ErrIncompleteAssertion) {
			e.oauthFailed(ctx, provider, "", ErrOAuthIncompleteAssertion)
			return nil, ErrOAuthIncompleteAssertion
		}
		e.logger.Warn("oauth exchange failed", zap.String("provider", provider), zap.Error(err))
		e.oauthFailed(ctx, provider, "", ErrOAuthExchange)
		return nil, fmt.Errorf("%w: %v", ErrOAuthExchange, err)
	}

	return e.ReconcileOAuth(ctx, attrs)
}

// ReconcileOAuth maps a provider assertion onto an identity and issues a
// session.
//
// An existing identity with the same email is reused and its link checked:
// a stored subject that differs from attrs.Subject is a hard failure and
// the link is left untouched. A new identity is created without a
// password, with role USER and the email already verified. Assertions
// whose email the provider has not verified are refused.
func (e *Engine) ReconcileOAuth(ctx context.Context, attrs oauth.Attributes) (*LoginResult, error) {
	email := normalizeEmail(attrs.Email)
	if attrs.Subject == "" || email == "" {
		e.oauthFailed(ctx, attrs.Provider, "", ErrOAuthIncompleteAssertion)
		return nil, ErrOAuthIncompleteAssertion
	}
	if !attrs.EmailVerified {
		e.logger.Warn("oauth email not verified by provider", zap.String("provider", attrs.Provider))
		e.oauthFailed(ctx, attrs.Provider, "", ErrOAuthEmailUnverified)
		return nil, ErrOAuthEmailUnverified
	}

	identity, err := e.identities.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if err := e.refreshPicture(ctx, identity, attrs.Picture); err != nil {
			return nil, err
		}
	case errors.Is(err, ErrIdentityNotFound):
		identity, err = e.createOAuthIdentity(ctx, email, attrs)
		if err != nil {
			return nil, err
		}
	default:
		return nil, e.storeErr("load identity for oauth", err)
	}

	if err := e.ensureLink(ctx, identity, attrs); err != nil {
		return nil, err
	}

	result, err := e.issueSession(identity)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricOAuthLogin)
	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventOAuthLogin, true, identity.ID, nil, func() map[string]string {
		return map[string]string{"provider": attrs.Provider}
	})
	return result, nil
}

func (e *Engine) createOAuthIdentity(ctx context.Context, email string, attrs oauth.Attributes) (*Identity, error) {
	identity := &Identity{
		Email:         email,
		DisplayName:   displayNameOrDefault(attrs.Name, email),
		Role:          RoleUser,
		EmailVerified: true,
		PictureURL:    attrs.Picture,
	}
	err := e.identities.Create(ctx, identity)
	switch {
	case err == nil:
		e.metrics.Inc(MetricOAuthIdentityCreated)
		return identity, nil
	case errors.Is(err, ErrAccountExists):
		// Lost a race with a concurrent registration of the same email.
		existing, err := e.identities.GetByEmail(ctx, email)
		if err != nil {
			return nil, e.storeErr("reload identity for oauth", err)
		}
		return existing, nil
	default:
		return nil, e.storeErr("create oauth identity", err)
	}
}

func (e *Engine) refreshPicture(ctx context.Context, identity *Identity, picture string) error {
	if picture == "" || picture == identity.PictureURL {
		return nil
	}
	if err := e.identities.UpdatePicture(ctx, identity.ID, picture); err != nil {
		return e.storeErr("update picture", err)
	}
	identity.PictureURL = picture
	return nil
}

func (e *Engine) ensureLink(ctx context.Context, identity *Identity, attrs oauth.Attributes) error {
	link, err := e.links.GetLink(ctx, identity.ID, attrs.Provider)
	switch {
	case err == nil:
		if link.Subject != attrs.Subject {
			return e.subjectMismatch(ctx, identity, attrs.Provider)
		}
		return nil
	case errors.Is(err, ErrLinkNotFound):
		err = e.links.CreateLink(ctx, ExternalLink{
			IdentityID: identity.ID,
			Provider:   attrs.Provider,
			Subject:    attrs.Subject,
			CreatedAt:  e.now().UTC(),
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrOAuthSubjectMismatch):
			return e.subjectMismatch(ctx, identity, attrs.Provider)
		default:
			return e.storeErr("create external link", err)
		}
	default:
		return e.storeErr("load external link", err)
	}
}

func (e *Engine) subjectMismatch(ctx context.Context, identity *Identity, provider string) error {
	e.metrics.Inc(MetricOAuthSubjectMismatch)
	e.logger.Error("oauth subject id mismatch",
		zap.String("user_id", identity.ID),
		zap.String("provider", provider),
	)
	e.oauthFailed(ctx, provider, identity.ID, ErrOAuthSubjectMismatch)
	return ErrOAuthSubjectMismatch
}

func (e *Engine) oauthFailed(ctx context.Context, provider, identityID string, err error) {
	e.metrics.Inc(MetricOAuthFailure)
	e.emitAudit(ctx, auditEventOAuthFailure, false, identityID, err, func() map[string]string {
		return map[string]string{"provider": provider}
	})
}
