package store

import (
	"context"

	"comanda/internal/domain"
)

// CatalogSeeder is implemented by stores that can upsert catalog rows.
// Catalog management itself lives outside this service; seeding only
// exists for local demos and tests.
type CatalogSeeder interface {
	SeedCatalog(ctx context.Context, products []domain.Product, customers []domain.Customer) error
}

// DemoProducts is a small snack-bar menu.
func DemoProducts() []domain.Product {
	return []domain.Product{
		{ID: "prod-xburger", Name: "X-Burger", Category: "Lanches", Price: 2890, Stock: 40},
		{ID: "prod-xsalada", Name: "X-Salada", Category: "Lanches", Price: 3190, Stock: 40},
		{ID: "prod-batata", Name: "Batata Frita", Category: "Porcoes", Price: 1990, Stock: 25},
		{ID: "prod-coxinha", Name: "Coxinha", Category: "Salgados", Price: 750, Stock: 60},
		{ID: "prod-refri", Name: "Refrigerante Lata", Category: "Bebidas", Price: 600, Stock: 120},
		{ID: "prod-suco", Name: "Suco Natural", Category: "Bebidas", Price: 1000, Unlimited: true},
		{ID: "prod-agua", Name: "Agua Mineral", Category: "Bebidas", Price: 400, Unlimited: true},
		{ID: "prod-acai", Name: "Acai 500ml", Category: "Sobremesas", Price: 2200, Stock: 2},
	}
}

func DemoCustomers() []domain.Customer {
	return []domain.Customer{
		{ID: "cli-ana", Name: "Ana Souza"},
		{ID: "cli-bruno", Name: "Bruno Lima", LoyaltyPoints: 120, Purchases: 9},
		{ID: "cli-carla", Name: "Carla Mendes"},
	}
}
