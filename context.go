package blockauth

import "context"

type requestClaimsKey struct{}

// BindRequestClaims stores verified request claims inside the context for downstream consumers.
func BindRequestClaims(ctx context.Context, claims *RequestClaims) context.Context {
	return context.WithValue(ctx, requestClaimsKey{}, claims)
}

// RequestClaimsFromContext retrieves request claims previously stored in the context.
func RequestClaimsFromContext(ctx context.Context) (*RequestClaims, bool) {
	if ctx == nil {
		return nil, false
	}
	value := ctx.Value(requestClaimsKey{})
	if value == nil {
		return nil, false
	}
	claims, ok := value.(*RequestClaims)
	return claims, ok && claims != nil
}
