package api

import (
	"context"
	"fmt"

	"github.com/digitalsociety/egov-cli/internal/models"
)

// Portal endpoint paths.
const (
	PathUserGroups           = "/api/user_groups/"
	PathNotifications        = "/api/get_notifications/"
	PathUserDocuments        = "/api/user_documents/"
	PathUserProfile          = "/api/user_profile/"
	PathChangePassword       = "/api/change_password/"
	PathCurrentUser          = "/api/get_user/"
	PathForums               = "/api/get_forums/"
	PathCreateForum          = "/api/create_forum/"
	PathCreatePost           = "/api/create_post/"
	PathRenewalRequests      = "/api/renewal_requests/"
	PathRegistrationRequests = "/api/registration_requests/"
)

// getInto GETs path and decodes the body into v.
func (c *Client) getInto(ctx context.Context, path string, v any) error {
	resp, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	if err := resp.UnmarshalData(v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// postMessage POSTs body to path and returns the acknowledgement message.
// Endpoints that answer with something other than {message} yield "".
func (c *Client) postMessage(ctx context.Context, path string, body any) (string, error) {
	resp, err := c.Post(ctx, path, body)
	if err != nil {
		return "", err
	}
	return messageOf(resp), nil
}

func (c *Client) deleteMessage(ctx context.Context, path string) (string, error) {
	resp, err := c.Delete(ctx, path)
	if err != nil {
		return "", err
	}
	return messageOf(resp), nil
}

func messageOf(resp *Response) string {
	var m models.Message
	if len(resp.Data) == 0 || resp.UnmarshalData(&m) != nil {
		return ""
	}
	return m.Message
}

// UserGroups returns the groups of the signed-in user.
func (c *Client) UserGroups(ctx context.Context) (*models.UserGroups, error) {
	var groups models.UserGroups
	if err := c.getInto(ctx, PathUserGroups, &groups); err != nil {
		return nil, err
	}
	return &groups, nil
}

// Notifications returns the signed-in citizen's notifications.
func (c *Client) Notifications(ctx context.Context) ([]models.Notification, error) {
	var notes []models.Notification
	if err := c.getInto(ctx, PathNotifications, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// Documents returns the signed-in citizen's record and documents.
func (c *Client) Documents(ctx context.Context) (*models.Documents, error) {
	var docs models.Documents
	if err := c.getInto(ctx, PathUserDocuments, &docs); err != nil {
		return nil, err
	}
	return &docs, nil
}

// CurrentUser returns the account behind the session.
func (c *Client) CurrentUser(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := c.getInto(ctx, PathCurrentUser, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateProfile changes the signed-in user's username.
func (c *Client) UpdateProfile(ctx context.Context, username string) (string, error) {
	return c.postMessage(ctx, PathUserProfile, map[string]string{"username": username})
}

// ChangePassword changes the signed-in user's password.
func (c *Client) ChangePassword(ctx context.Context, current, next string) (string, error) {
	return c.postMessage(ctx, PathChangePassword, map[string]string{
		"current_password": current,
		"new_password":     next,
	})
}

// Forums lists the Town Hall forums visible to the user.
func (c *Client) Forums(ctx context.Context) ([]models.Forum, error) {
	var forums []models.Forum
	if err := c.getInto(ctx, PathForums, &forums); err != nil {
		return nil, err
	}
	return forums, nil
}

// Forum returns one forum.
func (c *Client) Forum(ctx context.Context, id int64) (*models.Forum, error) {
	var forum models.Forum
	if err := c.getInto(ctx, fmt.Sprintf("/api/get_forum/%d/", id), &forum); err != nil {
		return nil, err
	}
	return &forum, nil
}

// CreateForum creates a forum for region ("nation" for everyone).
func (c *Client) CreateForum(ctx context.Context, title, region string) (string, error) {
	return c.postMessage(ctx, PathCreateForum, map[string]string{"title": title, "region": region})
}

// Posts lists a forum's posts, newest first.
func (c *Client) Posts(ctx context.Context, forumID int64) ([]models.Post, error) {
	var posts []models.Post
	if err := c.getInto(ctx, fmt.Sprintf("/api/get_posts/%d/", forumID), &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// GetPost returns one post.
func (c *Client) GetPost(ctx context.Context, id int64) (*models.Post, error) {
	var post models.Post
	if err := c.getInto(ctx, fmt.Sprintf("/api/get_post/%d/", id), &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// CreatePost publishes a post in a forum.
func (c *Client) CreatePost(ctx context.Context, forumID int64, title, content string) (string, error) {
	return c.postMessage(ctx, PathCreatePost, map[string]any{
		"forum":   forumID,
		"title":   title,
		"content": content,
	})
}

// LikePost toggles the user's like on a post.
func (c *Client) LikePost(ctx context.Context, id int64) (string, error) {
	return c.postMessage(ctx, fmt.Sprintf("/api/update_post_likes/%d/", id), nil)
}

// DeletePost removes a post.
func (c *Client) DeletePost(ctx context.Context, id int64) (string, error) {
	return c.deleteMessage(ctx, fmt.Sprintf("/api/delete_post/%d/", id))
}

// Comments lists a post's comments.
func (c *Client) Comments(ctx context.Context, postID int64) ([]models.Comment, error) {
	var comments []models.Comment
	if err := c.getInto(ctx, fmt.Sprintf("/api/get_comments/%d/", postID), &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

// CreateComment replies to a post.
func (c *Client) CreateComment(ctx context.Context, postID int64, content string) (string, error) {
	return c.postMessage(ctx, fmt.Sprintf("/api/create_comment/%d/", postID), map[string]string{"content": content})
}

// LikeComment toggles the user's like on a comment.
func (c *Client) LikeComment(ctx context.Context, id int64) (string, error) {
	return c.postMessage(ctx, fmt.Sprintf("/api/update_comment_likes/%d/", id), nil)
}

// DeleteComment removes a comment.
func (c *Client) DeleteComment(ctx context.Context, id int64) (string, error) {
	return c.deleteMessage(ctx, fmt.Sprintf("/api/delete_comment/%d/", id))
}

// RenewalRequests lists the inspector's renewal queue.
func (c *Client) RenewalRequests(ctx context.Context) ([]models.RenewalRequest, error) {
	var reqs []models.RenewalRequest
	if err := c.getInto(ctx, PathRenewalRequests, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// AcceptRenewal approves a renewal request.
func (c *Client) AcceptRenewal(ctx context.Context, id int64) (string, error) {
	return c.postMessage(ctx, fmt.Sprintf("/api/accept_renewal_request/%d/", id), nil)
}

// RejectRenewal rejects a renewal request with a reason.
func (c *Client) RejectRenewal(ctx context.Context, id int64, reason string) (string, error) {
	return c.postMessage(ctx, fmt.Sprintf("/api/reject_renewal_request/%d/", id),
		map[string]string{"rejectionReason": reason})
}

// RegistrationRequests lists the inspector's registration queue.
func (c *Client) RegistrationRequests(ctx context.Context) ([]models.RegistrationRequest, error) {
	var reqs []models.RegistrationRequest
	if err := c.getInto(ctx, PathRegistrationRequests, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// AcceptRegistration approves a registration request.
func (c *Client) AcceptRegistration(ctx context.Context, id int64) (string, error) {
	return c.postMessage(ctx, fmt.Sprintf("/api/accept_registration_request/%d/", id), nil)
}

// RejectRegistration rejects a registration request with a reason.
func (c *Client) RejectRegistration(ctx context.Context, id int64, reason string) (string, error) {
	return c.postMessage(ctx, fmt.Sprintf("/api/reject_registration_request/%d/", id),
		map[string]string{"rejectionReason": reason})
}
