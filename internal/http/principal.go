package http

import (
	"context"

	"github.com/gin-gonic/gin"

	"medauth/internal/domain"
	"medauth/internal/service"
)

const principalKey = "auth_principal"

type principalCtxKey struct{}

// Principal es el usuario autenticado de la petición, recargado del store.
type Principal struct {
	User   domain.User
	Claims service.Claims
}

func setPrincipal(c *gin.Context, p Principal) {
	c.Set(principalKey, p)
	c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), principalCtxKey{}, p))
}

// CurrentPrincipal obtiene el principal desde el contexto de gin.
func CurrentPrincipal(c *gin.Context) (Principal, bool) {
	val, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := val.(Principal)
	return p, ok
}

// PrincipalFromContext lo obtiene del contexto de la petición, para código fuera de gin.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(Principal)
	return p, ok
}
