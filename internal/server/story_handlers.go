package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"sokoni/internal/middleware"
	"sokoni/internal/models"
	"sokoni/internal/service"

	"github.com/gofiber/fiber/v2"
)

// GetStoryFeed handles GET /api/stories
// @Summary Story feed
// @Description Live stories of the caller and everyone they follow, grouped by author
// @Tags stories
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{success=bool,count=int,data=[]models.FeedGroup}
// @Failure 401 {object} models.ErrorResponse
// @Router /stories [get]
func (s *Server) GetStoryFeed(c *fiber.Ctx) error {
	groups, err := s.feedSvc.BuildFeed(c.UserContext(), currentUserID(c))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"count":   len(groups),
		"data":    groups,
	})
}

// GetMyStories handles GET /api/stories/my/stories
// @Summary Caller's live stories
// @Tags stories
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{success=bool,count=int,data=[]models.Story}
// @Router /stories/my/stories [get]
func (s *Server) GetMyStories(c *fiber.Ctx) error {
	return s.respondStoryList(c, currentUserID(c))
}

// GetUserStories handles GET /api/stories/user/:userId
// @Summary A user's live stories
// @Tags stories
// @Produce json
// @Param userId path int true "User ID"
// @Success 200 {object} object{success=bool,count=int,data=[]models.Story}
// @Failure 400 {object} models.ErrorResponse
// @Router /stories/user/{userId} [get]
func (s *Server) GetUserStories(c *fiber.Ctx) error {
	userID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}
	return s.respondStoryList(c, userID)
}

func (s *Server) respondStoryList(c *fiber.Ctx, authorID uint) error {
	stories, err := s.feedSvc.BuildUserFeed(c.UserContext(), authorID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"count":   len(stories),
		"data":    stories,
	})
}

// GetStory handles GET /api/stories/:id
// @Summary Get a story
// @Tags stories
// @Produce json
// @Param id path int true "Story ID"
// @Success 200 {object} object{success=bool,data=models.Story}
// @Failure 404 {object} models.ErrorResponse
// @Failure 410 {object} models.ErrorResponse
// @Router /stories/{id} [get]
func (s *Server) GetStory(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	story, err := s.storySvc.Get(c.UserContext(), id)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": story})
}

// CreateStory handles POST /api/stories
// @Summary Create a story
// @Description Multipart upload. An unparsable ctaButton is ignored.
// @Tags stories
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param media formData file true "Image or video"
// @Param product formData int false "Linked product ID"
// @Param caption formData string false "Caption"
// @Param duration formData int false "Display duration in milliseconds"
// @Param ctaButton formData string false "JSON {text, link}"
// @Success 201 {object} object{success=bool,message=string,data=models.Story}
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /stories [post]
func (s *Server) CreateStory(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)

	fh, err := c.FormFile("media")
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("No media file uploaded"))
	}
	if fh.Size > s.media.MaxUploadBytes() {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Media file too large"))
	}

	in := service.CreateStoryInput{AuthorID: userID, Caption: c.FormValue("caption")}
	if raw := strings.TrimSpace(c.FormValue("product")); raw != "" {
		pid, perr := strconv.ParseUint(raw, 10, 64)
		if perr != nil || pid == 0 {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("Invalid product ID"))
		}
		id := uint(pid)
		in.ProductID = &id
	}
	if raw := strings.TrimSpace(c.FormValue("duration")); raw != "" {
		d, derr := strconv.Atoi(raw)
		if derr != nil {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("Duration must be a whole number of milliseconds"))
		}
		in.DurationMs = &d
	}
	if raw := strings.TrimSpace(c.FormValue("ctaButton")); raw != "" {
		var cta models.CTAButton
		if jerr := json.Unmarshal([]byte(raw), &cta); jerr == nil {
			in.CTA = &cta
		} else {
			middleware.Logger.DebugContext(ctx, "ignoring malformed ctaButton", slog.String("error", jerr.Error()))
		}
	}

	f, err := fh.Open()
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Unable to read media file"))
	}
	content, err := io.ReadAll(io.LimitReader(f, s.media.MaxUploadBytes()+1))
	_ = f.Close()
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Unable to read media file"))
	}

	stored, err := s.media.Store(ctx, service.StoreMediaInput{
		UserID:      userID,
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Content:     content,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	in.MediaType = stored.Kind
	in.MediaURL = stored.URL
	in.Thumbnail = stored.ThumbnailURL

	story, err := s.storySvc.Create(ctx, in)
	if err != nil {
		s.media.Discard(stored)
		return models.RespondWithAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Story created successfully",
		"data":    story,
	})
}

// ViewStory handles POST /api/stories/:id/view
// @Summary Record a view
// @Tags stories
// @Produce json
// @Security BearerAuth
// @Param id path int true "Story ID"
// @Success 200 {object} object{success=bool,message=string,viewCount=int}
// @Failure 404 {object} models.ErrorResponse
// @Failure 410 {object} models.ErrorResponse
// @Router /stories/{id}/view [post]
func (s *Server) ViewStory(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	count, err := s.storySvc.RecordView(c.UserContext(), id, currentUserID(c))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"message":   "View added",
		"viewCount": count,
	})
}

// LikeStory handles POST /api/stories/:id/like
// @Summary Toggle a like
// @Tags stories
// @Produce json
// @Security BearerAuth
// @Param id path int true "Story ID"
// @Success 200 {object} object{success=bool,message=string,likeCount=int,isLiked=bool}
// @Failure 404 {object} models.ErrorResponse
// @Failure 410 {object} models.ErrorResponse
// @Router /stories/{id}/like [post]
func (s *Server) LikeStory(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	count, liked, err := s.storySvc.ToggleLike(c.UserContext(), id, currentUserID(c))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	msg := "Story unliked"
	if liked {
		msg = "Story liked"
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"message":   msg,
		"likeCount": count,
		"isLiked":   liked,
	})
}

// DeleteStory handles DELETE /api/stories/:id
// @Summary Delete own story
// @Tags stories
// @Produce json
// @Security BearerAuth
// @Param id path int true "Story ID"
// @Success 200 {object} object{success=bool,message=string}
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /stories/{id} [delete]
func (s *Server) DeleteStory(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.storySvc.SoftDelete(c.UserContext(), id, currentUserID(c)); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Story deleted successfully",
	})
}

// GetStoryViews handles GET /api/stories/:id/views
// @Summary Viewers of own story
// @Tags stories
// @Produce json
// @Security BearerAuth
// @Param id path int true "Story ID"
// @Success 200 {object} object{success=bool,viewCount=int,views=[]models.StoryView}
// @Failure 403 {object} models.ErrorResponse
// @Router /stories/{id}/views [get]
func (s *Server) GetStoryViews(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	views, err := s.storySvc.ListViews(c.UserContext(), id, currentUserID(c))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"viewCount": len(views),
		"views":     views,
	})
}
