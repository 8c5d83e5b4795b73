package rpc

// Clients may pin api_version on a request; omitting it means current.
const (
	apiVersion             = 1
	minSupportedAPIVersion = 1
)

const (
	codeAPIVersionUnsupported = -32080
	codeAPIVersionRetired     = -32081
)

type apiInfo struct {
	Current       int `json:"current_version"`
	MinSupported  int `json:"min_supported_version"`
	Notifications int `json:"notification_version"`
}

func checkAPIVersion(v *int) *rpcError {
	switch {
	case v == nil:
		return nil
	case *v < minSupportedAPIVersion:
		return &rpcError{Code: codeAPIVersionRetired, Message: "rpc api version is no longer supported"}
	case *v > apiVersion:
		return &rpcError{Code: codeAPIVersionUnsupported, Message: "rpc api version is newer than this server"}
	}
	return nil
}

func currentAPIInfo() apiInfo {
	return apiInfo{Current: apiVersion, MinSupported: minSupportedAPIVersion, Notifications: notificationVersion}
}
