package server

import (
	"sokoni/internal/models"

	"github.com/gofiber/fiber/v2"
)

// FollowUser handles POST /api/users/follow/:userId
// @Summary Follow a user
// @Tags follows
// @Produce json
// @Security BearerAuth
// @Param userId path int true "User to follow"
// @Success 200 {object} object{message=string,followingCount=int}
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /users/follow/{userId} [post]
func (s *Server) FollowUser(c *fiber.Ctx) error {
	targetID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}
	count, err := s.followSvc.Follow(c.UserContext(), currentUserID(c), targetID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"message":        "User followed successfully",
		"followingCount": count,
	})
}

// UnfollowUser handles DELETE /api/users/follow/:userId
// @Summary Unfollow a user
// @Tags follows
// @Produce json
// @Security BearerAuth
// @Param userId path int true "User to unfollow"
// @Success 200 {object} object{message=string,followingCount=int}
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /users/follow/{userId} [delete]
func (s *Server) UnfollowUser(c *fiber.Ctx) error {
	targetID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}
	count, err := s.followSvc.Unfollow(c.UserContext(), currentUserID(c), targetID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"message":        "User unfollowed successfully",
		"followingCount": count,
	})
}

// GetFollowers handles GET /api/users/followers[/:userId]
// @Summary List followers
// @Tags follows
// @Produce json
// @Security BearerAuth
// @Param userId path int false "User ID, defaults to the caller"
// @Success 200 {object} object{followers=[]models.UserSummary,count=int}
// @Failure 404 {object} models.ErrorResponse
// @Router /users/followers/{userId} [get]
func (s *Server) GetFollowers(c *fiber.Ctx) error {
	userID, err := s.targetUserID(c)
	if err != nil {
		return nil
	}
	followers, err := s.followSvc.ListFollowers(c.UserContext(), userID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"followers": followers, "count": len(followers)})
}

// GetFollowing handles GET /api/users/following[/:userId]
// @Summary List followed users
// @Tags follows
// @Produce json
// @Security BearerAuth
// @Param userId path int false "User ID, defaults to the caller"
// @Success 200 {object} object{following=[]models.UserSummary,count=int}
// @Failure 404 {object} models.ErrorResponse
// @Router /users/following/{userId} [get]
func (s *Server) GetFollowing(c *fiber.Ctx) error {
	userID, err := s.targetUserID(c)
	if err != nil {
		return nil
	}
	following, err := s.followSvc.ListFollowing(c.UserContext(), userID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"following": following, "count": len(following)})
}

// CheckFollowing handles GET /api/users/check-following/:userId
// @Summary Whether the caller follows a user
// @Tags follows
// @Produce json
// @Security BearerAuth
// @Param userId path int true "User ID"
// @Success 200 {object} object{isFollowing=bool}
// @Router /users/check-following/{userId} [get]
func (s *Server) CheckFollowing(c *fiber.Ctx) error {
	targetID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}
	ok, err := s.followSvc.IsFollowing(c.UserContext(), currentUserID(c), targetID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"isFollowing": ok})
}
