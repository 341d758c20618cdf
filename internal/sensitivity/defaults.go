package sensitivity

import "github.com/banshee-data/demand.sensitivity/internal/records"

// DefaultDistributionTable reproduces the draws of the original CEA
// sensitivity script. Parameters the script sampled but never wrote back
// (window ratio, HVAC and envelope types) are tabulated without a target.
func DefaultDistributionTable() DistributionTable {
	arch, loads, comfort := records.Architecture, records.InternalLoads, records.Comfort
	return DistributionTable{
		Index("void_deck", 0, 2).BindTo(arch, "void_deck"),
		Gaussian("Es", 0.8, 1).BindTo(arch, "Es"),
		Gaussian("Hs_ag", 0.6, 1).BindTo(arch, "Hs_ag"),
		Gaussian("Ns", 0.8, 1).BindTo(arch, "Ns"),
		Gaussian("wwr", 0.6, 1),
		Label("constr_type", "CONSTRUCTION_AS", 1, 3),
		Label("leak_type", "TIGHTNESS_AS", 1, 6),
		Label("roof_type", "ROOF_AS", 1, 7),
		Label("shading_type", "SHADING_AS", 0, 2),
		Label("wall_type", "WALL_AS", 1, 8),
		Label("part_type", "WALL_AS", 1, 6),
		Label("wind_type", "WINDOW_AS", 1, 10),
		Gaussian("Occ_m2pax", 15, 1).BindTo(loads, "Occ_m2pax"),
		Gaussian("Qs_wp", 70, 1),
		Gaussian("X_ghp", 70, 1),
		Gaussian("Ea_Wm2", 11, 1).BindTo(loads, "Ea_Wm2"),
		Gaussian("El_Wm2", 10, 1).BindTo(loads, "El_Wm2"),
		Gaussian("Vww_lpdpax", 40, 1).BindTo(loads, "Vww_lpdpax"),
		Gaussian("Tcs_set_C", 24, 1).BindTo(comfort, "Tcs_set_C"),
		Gaussian("Ve_lsp", 10, 1),
		Label("cooling_type", "HVAC_COOLING_AS", 1, 5),
		Label("hot_water_type", "HVAC_HOTWATER_AS", 0, 4),
		Label("controller_type", "HVAC_CONTROLLER_AS", 0, 4),
		Label("ventilation_type", "HVAC_VENTILATION_AS", 0, 3),
	}
}

// HeightBG declares a fixed below-ground height written to every building.
func HeightBG(v float64) ParamSpec {
	return Fixed("height_bg", records.Number(v)).BindTo(records.Geometry, "height_bg")
}

// FloorsBG declares a fixed below-ground floor count written to every
// building.
func FloorsBG(v float64) ParamSpec {
	return Fixed("floors_bg", records.Number(v)).BindTo(records.Geometry, "floors_bg")
}

// GeometryOverrides declares both below-ground geometry attributes.
func GeometryOverrides(heightBG, floorsBG float64) DistributionTable {
	return DistributionTable{HeightBG(heightBG), FloorsBG(floorsBG)}
}

// DefaultSearchSpace is the uniform search space the original external
// optimiser explored. Externally supplied trials are checked against it.
func DefaultSearchSpace() DistributionTable {
	arch, loads, comfort := records.Architecture, records.InternalLoads, records.Comfort
	return DistributionTable{
		Uniform("Hs_ag", 0.1, 0.25).BindTo(arch, "Hs_ag"),
		Uniform("Tcs_set_C", 24, 26).BindTo(comfort, "Tcs_set_C"),
		Uniform("Es", 0.4, 0.6).BindTo(arch, "Es"),
		Uniform("Ns", 0.4, 0.6).BindTo(arch, "Ns"),
		Uniform("Occ_m2pax", 35, 45).BindTo(loads, "Occ_m2pax"),
		Uniform("Vww_lpdpax", 25, 30).BindTo(loads, "Vww_lpdpax"),
		Uniform("Ea_Wm2", 1, 2.5).BindTo(loads, "Ea_Wm2"),
		Uniform("El_Wm2", 1, 2.5).BindTo(loads, "El_Wm2"),
	}
}
