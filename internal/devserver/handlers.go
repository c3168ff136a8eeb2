package devserver

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/digitalsociety/egov-cli/internal/models"
)

type message struct {
	Message string `json:"message"`
}

type fieldErrors map[string][]string

func required(fields ...string) fieldErrors {
	errs := fieldErrors{}
	for _, f := range fields {
		errs[f] = []string{"This field is required."}
	}
	return errs
}

func paramID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (s *Server) timestamp() string {
	return s.cfg.Now().UTC().Format(time.RFC3339)
}

// Token endpoints

func (s *Server) obtainToken(c echo.Context) error {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	var missing []string
	if body.Username == "" {
		missing = append(missing, "username")
	}
	if body.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return c.JSON(http.StatusBadRequest, required(missing...))
	}

	acc := s.data.accountByUsername(body.Username)
	if acc == nil || acc.Password != body.Password {
		return c.JSON(http.StatusUnauthorized, detail{Detail: "No active account found with the given credentials"})
	}

	access, err := s.tokens.issue(tokenTypeAccess, acc.ID, s.accessGen.Load())
	if err != nil {
		return err
	}
	refresh, err := s.tokens.issue(tokenTypeRefresh, acc.ID, s.refreshGen.Load())
	if err != nil {
		return err
	}
	s.logins.Add(1)
	return c.JSON(http.StatusOK, map[string]string{"access": access, "refresh": refresh})
}

func (s *Server) refreshToken(c echo.Context) error {
	var body struct {
		Refresh string `json:"refresh"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if body.Refresh == "" {
		s.failedRefreshes.Add(1)
		return c.JSON(http.StatusBadRequest, required("refresh"))
	}

	cl, err := s.tokens.parse(body.Refresh, tokenTypeRefresh)
	if err != nil || cl.Generation != s.refreshGen.Load() || s.data.account(cl.UserID) == nil {
		s.failedRefreshes.Add(1)
		return c.JSON(http.StatusUnauthorized, detail{Detail: "Token is invalid or expired", Code: "token_not_valid"})
	}

	access, err := s.tokens.issue(tokenTypeAccess, cl.UserID, s.accessGen.Load())
	if err != nil {
		return err
	}
	resp := map[string]string{"access": access}
	if s.cfg.RotateRefresh {
		refresh, err := s.tokens.issue(tokenTypeRefresh, cl.UserID, s.refreshGen.Load())
		if err != nil {
			return err
		}
		resp["refresh"] = refresh
	}
	s.refreshes.Add(1)
	return c.JSON(http.StatusOK, resp)
}

// Account endpoints

func (s *Server) userGroups(c echo.Context) error {
	groups := currentAccount(c).Groups
	if groups == nil {
		groups = []string{}
	}
	return c.JSON(http.StatusOK, models.UserGroups{Groups: groups})
}

func (s *Server) notifications(c echo.Context) error {
	s.data.mu.Lock()
	notes := append([]models.Notification{}, s.data.notifications[currentAccount(c).ID]...)
	s.data.mu.Unlock()
	return c.JSON(http.StatusOK, notes)
}

func (s *Server) userDocuments(c echo.Context) error {
	s.data.mu.Lock()
	docs := s.data.documents[currentAccount(c).ID]
	s.data.mu.Unlock()
	if docs == nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "User not associated with a citizen profile"})
	}
	return c.JSON(http.StatusOK, docs)
}

func (s *Server) currentUser(c echo.Context) error {
	acc := currentAccount(c)
	return c.JSON(http.StatusOK, models.User{ID: acc.ID, Username: acc.Username})
}

func (s *Server) updateProfile(c echo.Context) error {
	var body struct {
		Username string `json:"username"`
	}
	if err := c.Bind(&body); err != nil || strings.TrimSpace(body.Username) == "" {
		return c.JSON(http.StatusBadRequest, message{"A username is required."})
	}

	acc := currentAccount(c)
	if other := s.data.accountByUsername(body.Username); other != nil && other.ID != acc.ID {
		return c.JSON(http.StatusBadRequest, message{"This username is already taken."})
	}
	s.data.mu.Lock()
	acc.Username = body.Username
	s.data.mu.Unlock()
	return c.JSON(http.StatusOK, message{"The profile has been updated successfully."})
}

func (s *Server) changePassword(c echo.Context) error {
	var body struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := c.Bind(&body); err != nil || body.NewPassword == "" {
		return c.JSON(http.StatusBadRequest, message{"A new password is required."})
	}

	acc := currentAccount(c)
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	if acc.Password != body.CurrentPassword {
		return c.JSON(http.StatusBadRequest, message{"The current password is incorrect."})
	}
	acc.Password = body.NewPassword
	return c.JSON(http.StatusOK, message{"The password has been changed successfully."})
}

// Town Hall endpoints

func (s *Server) listForums(c echo.Context) error {
	acc := currentAccount(c)
	isRep := models.UserGroups{Groups: acc.Groups}.Has(models.GroupReps)

	s.data.mu.Lock()
	defer s.data.mu.Unlock()

	regions := map[string]bool{"nation": true}
	if docs := s.data.documents[acc.ID]; docs != nil {
		for _, a := range docs.Addresses {
			regions[strings.ToLower(a.City)] = true
		}
	}

	out := []models.Forum{}
	for _, f := range s.data.sortedForums() {
		if isRep || regions[strings.ToLower(f.Region)] {
			out = append(out, f)
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getForum(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	for _, f := range s.data.forums {
		if f.ID == id {
			return c.JSON(http.StatusOK, f)
		}
	}
	return c.JSON(http.StatusBadRequest, message{"The forum does not exist."})
}

func (s *Server) createForum(c echo.Context) error {
	var body struct {
		Title  string `json:"title"`
		Region string `json:"region"`
	}
	if err := c.Bind(&body); err != nil || body.Title == "" || body.Region == "" {
		return c.JSON(http.StatusBadRequest, message{"A title and a region are required."})
	}
	s.data.mu.Lock()
	s.data.forums = append(s.data.forums, models.Forum{ID: s.data.id(), Title: body.Title, Region: body.Region})
	s.data.mu.Unlock()
	return c.JSON(http.StatusOK, message{"The forum has been created successfully."})
}

func (s *Server) listPosts(c echo.Context) error {
	forumID, err := paramID(c, "forum")
	if err != nil {
		return err
	}
	s.data.mu.Lock()
	defer s.data.mu.Unlock()

	out := []models.Post{}
	for _, p := range s.data.posts {
		if p.Forum == forumID {
			p.LikesCount = len(s.data.postLikes[p.ID])
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getPost(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	for _, p := range s.data.posts {
		if p.ID == id {
			p.LikesCount = len(s.data.postLikes[p.ID])
			return c.JSON(http.StatusOK, p)
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "Not found.")
}

func (s *Server) createPost(c echo.Context) error {
	var body struct {
		Forum   int64  `json:"forum"`
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := c.Bind(&body); err != nil || body.Forum == 0 || body.Title == "" || body.Content == "" {
		return c.JSON(http.StatusBadRequest, message{"A forum, a title and content are required."})
	}

	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	found := false
	for _, f := range s.data.forums {
		found = found || f.ID == body.Forum
	}
	if !found {
		return c.JSON(http.StatusBadRequest, message{"The forum does not exist."})
	}
	s.data.posts = append(s.data.posts, models.Post{
		ID:        s.data.id(),
		Forum:     body.Forum,
		Author:    currentAccount(c).Username,
		Title:     body.Title,
		Content:   body.Content,
		Timestamp: s.timestamp(),
	})
	return c.JSON(http.StatusOK, message{"The post has been created successfully."})
}

func (s *Server) likePost(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	for _, p := range s.data.posts {
		if p.ID == id {
			n := toggleLike(s.data.postLikes, id, currentAccount(c).ID)
			return c.JSON(http.StatusOK, map[string]any{"message": "The post likes have been updated.", "likes_count": n})
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "Not found.")
}

func (s *Server) deletePost(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	for i, p := range s.data.posts {
		if p.ID != id {
			continue
		}
		if p.Author != currentAccount(c).Username {
			return c.JSON(http.StatusForbidden, detail{Detail: "You can only delete your own posts."})
		}
		s.data.posts = append(s.data.posts[:i], s.data.posts[i+1:]...)
		return c.JSON(http.StatusOK, message{"The post has been deleted successfully."})
	}
	return echo.NewHTTPError(http.StatusNotFound, "Not found.")
}

func (s *Server) listComments(c echo.Context) error {
	postID, err := paramID(c, "post")
	if err != nil {
		return err
	}
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	out := []models.Comment{}
	for _, cm := range s.data.comments {
		if cm.Post == postID {
			out = append(out, cm)
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) createComment(c echo.Context) error {
	postID, err := paramID(c, "post")
	if err != nil {
		return err
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := c.Bind(&body); err != nil || body.Content == "" {
		return c.JSON(http.StatusBadRequest, message{"Content is required."})
	}

	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	for _, p := range s.data.posts {
		if p.ID == postID {
			s.data.comments = append(s.data.comments, models.Comment{
				ID:        s.data.id(),
				Post:      postID,
				Author:    currentAccount(c).Username,
				Content:   body.Content,
				Timestamp: s.timestamp(),
			})
			return c.JSON(http.StatusOK, message{"The comment has been created successfully."})
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "Not found.")
}

func (s *Server) likeComment(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	for _, cm := range s.data.comments {
		if cm.ID == id {
			n := toggleLike(s.data.commentLikes, id, currentAccount(c).ID)
			return c.JSON(http.StatusOK, map[string]any{"message": "The comment likes have been updated.", "likes_count": n})
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "Not found.")
}

func (s *Server) deleteComment(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	for i, cm := range s.data.comments {
		if cm.ID != id {
			continue
		}
		if cm.Author != currentAccount(c).Username {
			return c.JSON(http.StatusForbidden, detail{Detail: "You can only delete your own comments."})
		}
		s.data.comments = append(s.data.comments[:i], s.data.comments[i+1:]...)
		return c.JSON(http.StatusOK, message{"The comment has been deleted successfully."})
	}
	return echo.NewHTTPError(http.StatusNotFound, "Not found.")
}

// Inspector endpoints

type rejection struct {
	RejectionReason string `json:"rejectionReason"`
}

func (s *Server) listRenewals(c echo.Context) error {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	out := []models.RenewalRequest{}
	for _, r := range s.data.renewals {
		if r.Status == models.StatusPending {
			out = append(out, r)
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) acceptRenewal(c echo.Context) error {
	return s.reviewRenewal(c, models.StatusApproved, "", "The request has been accepted.")
}

func (s *Server) rejectRenewal(c echo.Context) error {
	var body rejection
	_ = c.Bind(&body)
	return s.reviewRenewal(c, models.StatusRejected, body.RejectionReason, "The request has successfuly been rejected.")
}

func (s *Server) reviewRenewal(c echo.Context, status, reason, done string) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	for i := range s.data.renewals {
		r := &s.data.renewals[i]
		if r.ID != id || r.Status != models.StatusPending {
			continue
		}
		ts := s.timestamp()
		r.Status, r.ReviewedAt, r.RejectionReason = status, &ts, reason
		return c.JSON(http.StatusOK, message{done})
	}
	return c.JSON(http.StatusBadRequest, message{"The request does not exist."})
}

func (s *Server) listRegistrations(c echo.Context) error {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	out := []models.RegistrationRequest{}
	for _, r := range s.data.registrations {
		if r.Status == models.StatusPending {
			out = append(out, r)
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) acceptRegistration(c echo.Context) error {
	return s.reviewRegistration(c, models.StatusApproved, "", "The registration request has been accepted successfully.")
}

func (s *Server) rejectRegistration(c echo.Context) error {
	var body rejection
	_ = c.Bind(&body)
	return s.reviewRegistration(c, models.StatusRejected, body.RejectionReason, "The registration request has been rejected successfully.")
}

func (s *Server) reviewRegistration(c echo.Context, status, reason, done string) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	for i := range s.data.registrations {
		r := &s.data.registrations[i]
		if r.ID != id || r.Status != models.StatusPending {
			continue
		}
		ts := s.timestamp()
		r.Status, r.ReviewedAt, r.RejectionReason = status, &ts, reason
		return c.JSON(http.StatusOK, message{done})
	}
	return c.JSON(http.StatusBadRequest, message{"The request does not exist."})
}
