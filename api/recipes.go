package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/PipeOpsHQ/rube/auth"
	"github.com/PipeOpsHQ/rube/state"
)

func (s *Server) handleListRecipes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	recipes, err := s.cfg.Store.ListRecipes(r.Context(), state.RecipeQuery{
		Category:     strings.TrimSpace(q.Get("category")),
		FeaturedOnly: q.Get("featured") == "true",
	})
	if err != nil {
		s.writeFailure(w, "Failed to fetch recipes", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recipes": recipes})
}

func (s *Server) handleRecipeCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.cfg.Store.RecipeCategories(r.Context())
	if err != nil {
		s.writeFailure(w, "Failed to fetch categories", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (s *Server) handleGetRecipe(w http.ResponseWriter, r *http.Request) {
	recipe, err := s.cfg.Store.GetRecipe(r.Context(), r.PathValue("id"))
	if errors.Is(err, state.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "Recipe not found")
		return
	}
	if err != nil {
		s.writeFailure(w, "Failed to fetch recipe", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recipe": recipe})
}

// handleCreateRecipe always creates an active, non-featured recipe.
func (s *Server) handleCreateRecipe(w http.ResponseWriter, r *http.Request, _ auth.User) {
	var in state.Recipe
	if err := decodeJSON(r, w, &in); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Description) == "" || in.Apps == nil ||
		strings.TrimSpace(in.Category) == "" || strings.TrimSpace(in.PromptTemplate) == "" {
		writeMessage(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	recipe, err := s.cfg.Store.CreateRecipe(r.Context(), state.Recipe{
		Title:          in.Title,
		Description:    in.Description,
		Apps:           in.Apps,
		Category:       in.Category,
		PromptTemplate: in.PromptTemplate,
		IsActive:       true,
	})
	if err != nil {
		s.writeFailure(w, "Failed to create recipe", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"recipe": recipe})
}

func (s *Server) handleUpdateRecipe(w http.ResponseWriter, r *http.Request, _ auth.User) {
	var update state.RecipeUpdate
	if err := decodeJSON(r, w, &update); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	recipe, err := s.cfg.Store.UpdateRecipe(r.Context(), r.PathValue("id"), update)
	if errors.Is(err, state.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "Recipe not found")
		return
	}
	if err != nil {
		s.writeFailure(w, "Failed to update recipe", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recipe": recipe})
}

func (s *Server) handleDeleteRecipe(w http.ResponseWriter, r *http.Request, _ auth.User) {
	err := s.cfg.Store.DeleteRecipe(r.Context(), r.PathValue("id"))
	if errors.Is(err, state.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "Recipe not found")
		return
	}
	if err != nil {
		s.writeFailure(w, "Failed to delete recipe", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
