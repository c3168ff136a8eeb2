// Package models provides type definitions for the portal API entities.
package models

// UserGroups is the response of the user groups endpoint.
type UserGroups struct {
	Groups []string `json:"groups"`
}

// Group names that unlock parts of the portal.
const (
	GroupInspectors = "Inspectors"
	GroupReps       = "Reps"
)

// Has reports whether name is one of the groups.
func (g UserGroups) Has(name string) bool {
	for _, n := range g.Groups {
		if n == name {
			return true
		}
	}
	return false
}

// Notification is a message addressed to the signed-in citizen.
type Notification struct {
	ID      int64  `json:"id"`
	Message string `json:"message"`
}

// Message is the generic acknowledgement body of mutating endpoints.
type Message struct {
	Message string `json:"message"`
}

// User is the account behind a session.
type User struct {
	ID       int64  `json:"id,omitempty"`
	Username string `json:"username"`
}

// Citizen is the civil record tied to a user account.
type Citizen struct {
	NationalID  string `json:"national_id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"date_of_birth"`
	Sex         string `json:"sex"`
	BloodType   string `json:"blood_type,omitempty"`
	Picture     string `json:"picture,omitempty"`
	User        *User  `json:"user,omitempty"`
}

// Passport is a citizen's passport.
type Passport struct {
	PassportNumber string `json:"passport_number"`
	Citizen        string `json:"citizen"`
	IssueDate      string `json:"issue_date"`
	ExpiryDate     string `json:"expiry_date"`
	Picture        string `json:"picture,omitempty"`
}

// DrivingLicense is a citizen's driving license.
type DrivingLicense struct {
	LicenseNumber    string `json:"license_number"`
	Citizen          string `json:"citizen"`
	IssueDate        string `json:"issue_date"`
	ExpiryDate       string `json:"expiry_date"`
	Nationality      string `json:"nationality,omitempty"`
	EmergencyContact string `json:"emergency_contact,omitempty"`
	LicenseClass     string `json:"license_class"`
	Picture          string `json:"picture,omitempty"`
}

// Address is a registered residence. State is Active, Inactive or
// Pending Request.
type Address struct {
	ID              int64  `json:"id"`
	Citizen         string `json:"citizen"`
	Country         string `json:"country"`
	City            string `json:"city"`
	Street          string `json:"street"`
	BuildingNumber  int    `json:"building_number"`
	FloorNumber     int    `json:"floor_number"`
	ApartmentNumber int    `json:"apartment_number"`
	State           string `json:"state"`
}

// Property is a registered real or intellectual property.
type Property struct {
	ID              int64  `json:"id"`
	PropertyID      string `json:"property_id"`
	Citizen         string `json:"citizen"`
	Location        string `json:"location"`
	PropertyType    string `json:"property_type"`
	Description     string `json:"description,omitempty"`
	Size            string `json:"size,omitempty"`
	Picture         string `json:"picture,omitempty"`
	IsUnderTransfer bool   `json:"is_under_transfer"`
}

// Vehicle is a registered vehicle.
type Vehicle struct {
	ID              int64  `json:"id"`
	SerialNumber    int64  `json:"serial_number"`
	Citizen         string `json:"citizen"`
	Model           string `json:"model"`
	Manufacturer    string `json:"manufacturer"`
	Year            int    `json:"year"`
	VehicleType     string `json:"vehicle_type"`
	PlateNumber     string `json:"plate_number"`
	Picture         string `json:"picture,omitempty"`
	IsUnderTransfer bool   `json:"is_under_transfer"`
}

// Documents is everything the portal holds for the signed-in citizen.
// Missing documents are null.
type Documents struct {
	Citizen    *Citizen        `json:"citizen"`
	Passport   *Passport       `json:"passport"`
	License    *DrivingLicense `json:"license"`
	Properties []Property      `json:"properties"`
	Vehicles   []Vehicle       `json:"vehicles"`
	Addresses  []Address       `json:"addresses"`
}

// Forum is a Town Hall discussion board scoped to a region ("nation" for
// nationwide boards).
type Forum struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Region string `json:"region"`
}

// Post is a Town Hall post.
type Post struct {
	ID         int64  `json:"id"`
	Forum      int64  `json:"forum"`
	Author     string `json:"author"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
	LikesCount int    `json:"likes_count"`
	Picture    string `json:"picture,omitempty"`
}

// Comment is a reply to a post.
type Comment struct {
	ID        int64  `json:"id"`
	Post      int64  `json:"post"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Picture   string `json:"picture,omitempty"`
}

// Request review states.
const (
	StatusPending  = "Pending"
	StatusApproved = "Approved"
	StatusRejected = "Rejected"
)

// CitizenInfo is the subset of the civil record shown to inspectors.
type CitizenInfo struct {
	NationalID  string `json:"national_id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Sex         string `json:"sex,omitempty"`
	BloodType   string `json:"blood_type,omitempty"`
}

// RenewalRequest asks for a passport or driving license to be reissued.
// Only the info block matching RequestType is present.
type RenewalRequest struct {
	ID              int64            `json:"id"`
	Citizen         string           `json:"citizen"`
	RequestType     string           `json:"request_type"`
	Reason          string           `json:"reason,omitempty"`
	Picture         string           `json:"picture,omitempty"`
	ProofDocument   string           `json:"proof_document,omitempty"`
	Status          string           `json:"status"`
	SubmittedAt     string           `json:"submitted_at"`
	ReviewedAt      *string          `json:"reviewed_at"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	CitizenInfo     *CitizenInfo     `json:"citizen_info,omitempty"`
	PassportInfo    []Passport       `json:"passport_info,omitempty"`
	LicenseInfo     []DrivingLicense `json:"license_info,omitempty"`
}

// RegistrationRequest asks for an address, property or vehicle to be
// registered or transferred.
type RegistrationRequest struct {
	ID              int64        `json:"id"`
	Citizen         string       `json:"citizen"`
	RequestType     string       `json:"request_type"`
	ProofDocument   string       `json:"proof_document,omitempty"`
	PreviousOwnerID string       `json:"previous_owner_id,omitempty"`
	Status          string       `json:"status"`
	SubmittedAt     string       `json:"submitted_at"`
	ReviewedAt      *string      `json:"reviewed_at"`
	RejectionReason string       `json:"rejection_reason,omitempty"`
	CitizenInfo     *CitizenInfo `json:"citizen_info,omitempty"`
	AddressInfo     *Address     `json:"address_info,omitempty"`
	PropertyInfo    *Property    `json:"property_info,omitempty"`
	VehicleInfo     *Vehicle     `json:"vehicle_info,omitempty"`
}
