package middlewares

import (
	"context"
	"net/http"

	"bitbucket.org/mmdatafocus/stockbook_backend/config"
	"bitbucket.org/mmdatafocus/stockbook_backend/utils"
	"github.com/gin-gonic/gin"
)

type Session struct {
	UserId    int    `json:"user_id"`
	UserEmail string `json:"user_email"`
	UserName  string `json:"user_name"`
}

// SessionMiddleware resolves the token header against the redis session
// store and stamps user identity into the request context for activity
// attribution. Requests without a token pass through anonymously.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}

		var session Session
		found, err := config.GetRedisObject("Session:"+token, &session)
		if err != nil || !found {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := context.WithValue(c.Request.Context(), utils.ContextKeyToken, token)
		ctx = utils.SetUserIdInContext(ctx, session.UserId)
		ctx = utils.SetUserEmailInContext(ctx, session.UserEmail)
		ctx = utils.SetUserNameInContext(ctx, session.UserName)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
