package common

const (
	HeaderContentType        = "Content-Type"
	HeaderContentLength      = "Content-Length"
	HeaderContentDisposition = "Content-Disposition"
	HeaderCacheControl       = "Cache-Control"
	HeaderRetryAfter         = "Retry-After"
	HeaderLocation           = "Location"
	HeaderUserAgent          = "User-Agent"
	HeaderAcceptLanguage     = "Accept-Language"
	HeaderAccept             = "Accept"
	HeaderClientHintModel    = "Sec-CH-UA-Model"
	HeaderClientHintPlatform = "Sec-CH-UA-Platform"
	ContentTypePlain         = "text/plain; charset=utf-8"
	ContentTypeHTML          = "text/html; charset=utf-8"
	ContentTypeJSON          = "application/json"
	ParamUID                 = "uid"
	ParamZone                = "zone"
	ParamSignature           = "sig"
	ParamToken               = "token"
)
