package centrallink

import "github.com/louaj-station/local-node/internal/model"

// staffFromLoginResponse builds a model.Staff from a central
// staff_login_response's staff object. The password hash is left empty:
// central-issued staff are authenticated by central, not by a locally held
// hash (spec.md §4.5).
func staffFromLoginResponse(id, cin, firstName, lastName, role, phone string, isActive bool) model.Staff {
	return model.Staff{
		ID:          id,
		CIN:         cin,
		FirstName:   firstName,
		LastName:    lastName,
		Role:        model.StaffRole(role),
		PhoneNumber: phone,
		IsActive:    isActive,
	}
}
