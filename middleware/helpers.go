package middleware

import (
	"fmt"
	"strconv"

	"github.com/Dosada05/club-engine/models"
	"github.com/golang-jwt/jwt/v4"
)

// Имена JWT claims, которые выставляет провайдер идентификации.
const (
	jwtClaimUserID = "user_id"
	jwtClaimRole   = "role"
)

func identityFromClaims(claims jwt.MapClaims) (models.Identity, error) {
	userID, err := userIDFromClaims(claims)
	if err != nil {
		return models.Identity{}, err
	}
	role, err := roleFromClaims(claims)
	if err != nil {
		return models.Identity{}, err
	}
	return models.Identity{UserID: userID, Role: role}, nil
}

func userIDFromClaims(claims jwt.MapClaims) (int, error) {
	userIDClaim, ok := claims[jwtClaimUserID]
	if !ok {
		return 0, fmt.Errorf("missing '%s' claim in token", jwtClaimUserID)
	}

	var userID int
	switch v := userIDClaim.(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("'%s' claim is not an integer: %f", jwtClaimUserID, v)
		}
		userID = int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid '%s' claim: %q", jwtClaimUserID, v)
		}
		userID = n
	default:
		return 0, fmt.Errorf("invalid type for '%s' claim: expected number or string, got %T", jwtClaimUserID, userIDClaim)
	}

	if userID <= 0 {
		return 0, fmt.Errorf("invalid user ID value in '%s' claim: %d", jwtClaimUserID, userID)
	}
	return userID, nil
}

func roleFromClaims(claims jwt.MapClaims) (models.UserRole, error) {
	roleClaim, ok := claims[jwtClaimRole]
	if !ok {
		// токен без роли - обычный участник
		return models.RolePlayer, nil
	}
	roleStr, ok := roleClaim.(string)
	if !ok {
		return "", fmt.Errorf("invalid type for '%s' claim: expected string, got %T", jwtClaimRole, roleClaim)
	}
	role := models.UserRole(roleStr)
	if !role.Valid() {
		return "", fmt.Errorf("invalid role value in claim: %q", roleStr)
	}
	return role, nil
}
