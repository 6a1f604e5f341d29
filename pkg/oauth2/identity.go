package oauth2

// Identity is the authenticated visitor as reported by the provider's profile endpoint.
type Identity struct {
	ID         string `json:"id" cbor:"id" yaml:"id" validate:"required"`
	Username   string `json:"username" cbor:"username" yaml:"username"`
	GlobalName string `json:"global_name,omitempty" cbor:"global_name,omitempty" yaml:"global_name,omitempty"`
	Avatar     string `json:"avatar,omitempty" cbor:"avatar,omitempty" yaml:"avatar,omitempty"`
}

func (i Identity) DisplayName() string {
	if i.GlobalName != "" {
		return i.GlobalName
	}
	return i.Username
}
