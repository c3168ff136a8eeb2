package devserver

import (
	"sort"
	"sync"
	"time"

	"github.com/digitalsociety/egov-cli/internal/models"
)

// Account is a portal login seeded into the server.
type Account struct {
	ID       int64
	Username string
	Password string
	Groups   []string
	Citizen  *models.Citizen
}

// store is the in-memory portal state.
type store struct {
	mu sync.Mutex

	accounts      map[int64]*Account
	documents     map[int64]*models.Documents
	notifications map[int64][]models.Notification

	forums        []models.Forum
	posts         []models.Post
	comments      []models.Comment
	postLikes     map[int64]map[int64]bool
	commentLikes  map[int64]map[int64]bool
	renewals      []models.RenewalRequest
	registrations []models.RegistrationRequest

	nextID int64
}

func newStore() *store {
	return &store{
		accounts:      make(map[int64]*Account),
		documents:     make(map[int64]*models.Documents),
		notifications: make(map[int64][]models.Notification),
		postLikes:     make(map[int64]map[int64]bool),
		commentLikes:  make(map[int64]map[int64]bool),
		nextID:        100,
	}
}

func (s *store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *store) accountByUsername(username string) *Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Username == username {
			return a
		}
	}
	return nil
}

func (s *store) account(id int64) *Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id]
}

func (s *store) addAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := a
	s.accounts[acc.ID] = &acc
}

// DefaultAccounts is the seed used by New when Config.Accounts is empty.
// Passwords are for local development only.
func DefaultAccounts() []Account {
	return []Account{
		{
			ID: 1, Username: "citizen", Password: "citizen-pass",
			Citizen: &models.Citizen{
				NationalID: "30001", FirstName: "Layla", LastName: "Haddad",
				DateOfBirth: "1990-04-12", Sex: "F", BloodType: "O+",
			},
		},
		{
			ID: 2, Username: "inspector", Password: "inspector-pass",
			Groups: []string{models.GroupInspectors},
		},
		{
			ID: 3, Username: "rep", Password: "rep-pass",
			Groups: []string{models.GroupReps},
			Citizen: &models.Citizen{
				NationalID: "30003", FirstName: "Omar", LastName: "Khalil",
				DateOfBirth: "1984-09-30", Sex: "M", BloodType: "A+",
			},
		},
	}
}

// seed fills the store with accounts and a small amount of content.
func (s *store) seed(accounts []Account, now time.Time) {
	for _, a := range accounts {
		s.addAccount(a)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now.UTC().Format(time.RFC3339)
	for _, seeded := range accounts {
		a := s.accounts[seeded.ID]
		if a.Citizen == nil {
			continue
		}
		nid := a.Citizen.NationalID
		citizen := *a.Citizen
		citizen.User = &models.User{Username: a.Username}
		s.documents[a.ID] = &models.Documents{
			Citizen: &citizen,
			Passport: &models.Passport{
				PassportNumber: "P" + nid, Citizen: nid,
				IssueDate: "2019-01-10", ExpiryDate: "2029-01-09",
			},
			Addresses: []models.Address{{
				ID: s.id(), Citizen: nid, Country: "Jordan", City: "Amman",
				Street: "Rainbow St", BuildingNumber: 12, FloorNumber: 2, ApartmentNumber: 4,
				State: "Active",
			}},
		}
		s.notifications[a.ID] = []models.Notification{
			{ID: s.id(), Message: "Your passport renewal request has been received."},
		}
		s.renewals = append(s.renewals, models.RenewalRequest{
			ID: s.id(), Citizen: nid, RequestType: "Passport", Reason: "Lost",
			Status: models.StatusPending, SubmittedAt: ts,
			CitizenInfo: &models.CitizenInfo{
				NationalID: nid, FirstName: a.Citizen.FirstName, LastName: a.Citizen.LastName,
				DateOfBirth: a.Citizen.DateOfBirth, Sex: a.Citizen.Sex,
			},
			PassportInfo: []models.Passport{*s.documents[a.ID].Passport},
		})
		s.registrations = append(s.registrations, models.RegistrationRequest{
			ID: s.id(), Citizen: nid, RequestType: "Vehicle Registration",
			PreviousOwnerID: "30999", Status: models.StatusPending, SubmittedAt: ts,
			CitizenInfo: &models.CitizenInfo{
				NationalID: nid, FirstName: a.Citizen.FirstName, LastName: a.Citizen.LastName,
			},
			VehicleInfo: &models.Vehicle{
				ID: s.id(), SerialNumber: 77001, Citizen: nid, Model: "Corolla",
				Manufacturer: "Toyota", Year: 2018, VehicleType: "Sedan",
				PlateNumber: "12-3456", IsUnderTransfer: true,
			},
		})
	}

	nation := models.Forum{ID: s.id(), Title: "National Affairs", Region: "nation"}
	s.forums = append(s.forums, nation, models.Forum{ID: s.id(), Title: "Amman Council", Region: "Amman"})
	s.posts = append(s.posts, models.Post{
		ID: s.id(), Forum: nation.ID, Author: "rep", Title: "Welcome",
		Content: "Welcome to the Town Hall.", Timestamp: ts,
	})
}

// sortedForums returns forums ordered by id.
func (s *store) sortedForums() []models.Forum {
	out := append([]models.Forum(nil), s.forums...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// toggleLike flips userID's like on target and returns the new count.
func toggleLike(likes map[int64]map[int64]bool, target, userID int64) int {
	set := likes[target]
	if set == nil {
		set = make(map[int64]bool)
		likes[target] = set
	}
	if set[userID] {
		delete(set, userID)
	} else {
		set[userID] = true
	}
	return len(set)
}
