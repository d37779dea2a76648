package models

import "gorm.io/gorm"

func ptr(s string) *string { return &s }

var sampleCatalog = []Offering{
	{Name: "Margherita", Description: "Tomato sauce, mozzarella, basil, olive oil", Price: 25.99, Image: ptr("https://foodish-api.com/images/pizza/pizza51.jpg"), Enabled: true, Featured: true},
	{Name: "Pepperoni", Description: "Tomato sauce, mozzarella, pepperoni", Price: 29.99, Image: ptr("https://foodish-api.com/images/pizza/pizza94.jpg"), Enabled: true, Featured: true},
	{Name: "Four Cheese", Description: "Tomato sauce, four cheeses", Price: 32.99, Image: ptr("https://foodish-api.com/images/pizza/pizza89.jpg"), Enabled: true},
	{Name: "Chicken Catupiry", Description: "Tomato sauce, shredded chicken, catupiry", Price: 34.99, Image: ptr("https://foodish-api.com/images/pizza/pizza22.jpg"), Enabled: true},
	{Name: "Calabresa", Description: "Tomato sauce, mozzarella, sliced calabresa", Price: 28.99, Image: ptr("https://foodish-api.com/images/pizza/pizza66.jpg"), Enabled: true, Featured: true},
	{Name: "Portuguese", Description: "Tomato sauce, ham, eggs, onion, olives", Price: 30.99, Image: ptr("https://foodish-api.com/images/pizza/pizza74.jpg")},
	{Name: "Vegetarian", Description: "Tomato sauce, mushrooms, zucchini, bell pepper", Price: 27.99, Image: ptr("https://foodish-api.com/images/pizza/pizza77.jpg"), Enabled: true},
	{Name: "Meatballs", Description: "Tomato sauce, mozzarella, meatballs", Price: 22.99, Image: ptr("https://foodish-api.com/images/pizza/pizza79.jpg"), Enabled: true, Featured: true},
	{Name: "Palm Heart", Description: "Tomato sauce, mozzarella, palm heart", Price: 31.99, Image: ptr("https://foodish-api.com/images/pizza/pizza94.jpg")},
	{Name: "Carbonara", Description: "Tomato sauce, bacon, eggs, parmesan", Price: 35.99, Image: ptr("https://foodish-api.com/images/pizza/pizza81.jpg"), Enabled: true},
}

// SeedCatalog inserts the sample catalog when the offerings table is empty.
// It returns the number of rows inserted.
func SeedCatalog(db *gorm.DB) (int, error) {
	var count int64
	if err := db.Model(&Offering{}).Count(&count).Error; err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}
	items := make([]Offering, len(sampleCatalog))
	copy(items, sampleCatalog)
	if err := db.Create(&items).Error; err != nil {
		return 0, err
	}
	return len(items), nil
}

// All lists every model managed by the schema migration.
func All() []interface{} {
	return []interface{}{&User{}, &Asset{}, &Offering{}, &Order{}, &OrderOffering{}, &StaleFile{}}
}
