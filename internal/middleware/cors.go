package middleware

import "net/http"

var corsAllowHeaders = "Content-Type, " + csrfHeaderName

// NewCORSMiddleware はSPAのオリジンからのCookie付きリクエストを許可するミドルウェアを返す。
// Originが許可オリジンと一致する場合のみAllow-Originを返す。
// レート制限時のRetry-Afterとリクエスト追跡用のX-Request-IDをSPAから読めるようにする。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")
			if origin := r.Header.Get("Origin"); origin != "" && origin == allowedOrigin {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")
			}

			if r.Method != http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			// プリフライトはハンドラーまで到達させない
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
