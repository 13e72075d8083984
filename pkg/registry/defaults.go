package registry

// Defaults returns the compiled-in destination set used to seed a fresh
// install (or to repopulate a document that lost its records). Every
// default ships enabled, unvisited, at the standard fare.
func Defaults() []*City {
	return []*City{
		{
			Name:                 "Cierzo",
			SceneName:            "CierzoNewTerrain",
			Coords:               &Vec3{X: 1203.535, Y: 5.977, Z: 1375.855},
			Price:                DefaultPrice,
			TargetGameObjectName: "CierzoTravelStand",
			Desc:                 "Coastal village in the Chersonese",
			Enabled:              true,
			Variants:             []string{},
		},
		{
			Name:                 "Berg",
			SceneName:            "Berg",
			Coords:               &Vec3{X: 1193.25, Y: -13.807, Z: 1413.719},
			Price:                DefaultPrice,
			TargetGameObjectName: "BergTravelStand",
			Desc:                 "Forest city of the Enmerkar",
			Enabled:              true,
			Variants:             []string{},
		},
		{
			Name:                 "Monsoon",
			SceneName:            "Monsoon",
			Coords:               &Vec3{X: 64.023, Y: -4.761, Z: 419.821},
			Price:                DefaultPrice,
			TargetGameObjectName: "MonsoonTravelStand",
			Desc:                 "Marsh town behind the levee",
			Enabled:              true,
			Variants:             []string{},
		},
		{
			Name:                 "Levant",
			SceneName:            "Levant",
			Coords:               &Vec3{X: -190.918, Y: 176.953, Z: 793.046},
			Price:                DefaultPrice,
			TargetGameObjectName: "LevantTravelStand",
			Desc:                 "Desert city of the free",
			Enabled:              true,
			Variants:             []string{},
		},
		{
			Name:                 "Harmattan",
			SceneName:            "Harmattan",
			Coords:               &Vec3{X: 88.014, Y: 44.672, Z: 443.775},
			Price:                DefaultPrice,
			TargetGameObjectName: "HarmattanTravelStand",
			Desc:                 "Walled city on the Antique Plateau",
			Enabled:              true,
			Variants:             []string{},
		},
		{
			Name:                 "New Sirocco",
			SceneName:            "NewSirocco",
			Coords:               &Vec3{X: 712.542, Y: 64.331, Z: 351.208},
			Price:                DefaultPrice,
			TargetGameObjectName: "SiroccoTravelStand",
			Desc:                 "Rebuilt settlement in the Caldera",
			Enabled:              true,
			Variants:             []string{},
		},
	}
}
