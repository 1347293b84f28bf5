package tenants

// Tenant is a college as listed by the backend directory. The directory only
// feeds the selection UI; it carries no authority over session scope.
type Tenant struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}
