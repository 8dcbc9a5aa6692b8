package api

import (
	"encoding/json"
	"errors"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/nerrad567/campus-auth/internal/auth"
)

// ─── Request Types ─────────────────────────────────────────────────
//
// Shape checks run here, before the core. Policy checks (password
// strength, role eligibility, profile limits) stay in the auth package so
// every caller gets them.

type registerRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	MiddleName string `json:"middleName,omitempty"`
	Role       string `json:"role"`
}

func (r registerRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, auth.MaxEmailLength), is.Email),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.FirstName, validation.Required),
		validation.Field(&r.LastName, validation.Required),
		validation.Field(&r.Role, validation.Required,
			validation.In(string(auth.RoleStudent), string(auth.RoleParent)).Error("must be STUDENT or PARENT")),
	)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r loginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (r refreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (r changePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required),
	)
}

type changeStatusRequest struct {
	Status string `json:"status"`
}

func (r changeStatusRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Status, validation.Required,
			validation.In(string(auth.StatusPending), string(auth.StatusActive), string(auth.StatusSuspended), string(auth.StatusInactive))),
	)
}

type linkChildRequest struct {
	ChildID   string `json:"childId"`
	Relation  string `json:"relation,omitempty"`
	IsPrimary bool   `json:"isPrimary"`
}

func (r linkChildRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ChildID, validation.Required),
		validation.Field(&r.Relation, validation.Length(0, auth.MaxRelationLength)),
	)
}

type createClassRequest struct {
	Name          string `json:"name"`
	HomeTeacherID string `json:"homeTeacherId,omitempty"`
}

func (r createClassRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, auth.MaxClassNameLength)),
	)
}

// assignClassRequest moves a student. An empty classId removes the student
// from any class.
type assignClassRequest struct {
	ClassID string `json:"classId"`
}

func (r assignClassRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ClassID, validation.Length(0, 64)),
	)
}

// ─── Decoding ──────────────────────────────────────────────────────

// decodeAndValidate reads a JSON body into dst and runs its Validate
// method. On failure it writes the 400 response and returns false.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst validation.Validatable) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
			return false
		}
		writeBadRequest(w, "invalid JSON body")
		return false
	}

	if err := dst.Validate(); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

// writeValidationError writes a 400 with one message per failing field.
func writeValidationError(w http.ResponseWriter, err error) {
	resp := Error{
		Status:  http.StatusBadRequest,
		Code:    ErrCodeValidation,
		Message: err.Error(),
	}

	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		resp.Fields = make(map[string]string, len(fieldErrs))
		for field, fe := range fieldErrs {
			resp.Fields[field] = fe.Error()
		}
	}
	writeJSON(w, http.StatusBadRequest, resp)
}
