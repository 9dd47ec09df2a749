package middleware

import "net/http"

// apiResponseHeaders はJSON APIの全レスポンスに付与するヘッダー。
// 閲覧者ごとのフィードやいいね状態を共有キャッシュに残さないようno-storeを付ける。
var apiResponseHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Cross-Origin-Resource-Policy", "same-site"},
	{"Cache-Control", "private, no-store"},
}

// NewSecurityHeadersMiddleware はapiResponseHeadersを付与するミドルウェアを返す。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, kv := range apiResponseHeaders {
				w.Header().Set(kv[0], kv[1])
			}
			next.ServeHTTP(w, r)
		})
	}
}
