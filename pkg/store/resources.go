package store

import (
	"github.com/rs/zerolog"

	"github.com/programshouse/medicaldash/pkg/constants"
)

// Specs of the dashboard collections. Callers may copy one and adjust
// FieldNames or the update verbs to match a particular backend.
var (
	BlogSpec     = Spec{Name: "blogs", Path: constants.BlogsPath}
	ServiceSpec  = Spec{Name: "services", Path: constants.ServicesPath}
	WorkshopSpec = Spec{Name: "workshops", Path: constants.WorkshopPath}
	ReviewSpec   = Spec{Name: "reviews", Path: constants.ReviewsPath}
	ContactSpec  = Spec{Name: "contacts", Path: constants.ContactsPath}
	SettingsSpec = Spec{Name: "settings", Path: constants.SettingsPath}
)

func NewBlogs(conn Doer, logger zerolog.Logger) *Store {
	return New(conn, BlogSpec, logger)
}

func NewServices(conn Doer, logger zerolog.Logger) *Store {
	return New(conn, ServiceSpec, logger)
}

func NewWorkshops(conn Doer, logger zerolog.Logger) *Store {
	return New(conn, WorkshopSpec, logger)
}

func NewReviews(conn Doer, logger zerolog.Logger) *Store {
	return New(conn, ReviewSpec, logger)
}

func NewContacts(conn Doer, logger zerolog.Logger) *Store {
	return New(conn, ContactSpec, logger)
}
