// Package plans реализует HTTP-обработчик списка тарифов.
package plans

import (
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/pesapoll/internal/http/response"
	"github.com/magabrotheeeer/pesapoll/internal/models"
)

// ServeHTTP возвращает тарифы в порядке возрастания цены.
func ServeHTTP(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"plans": models.Plans(),
	}))
}
